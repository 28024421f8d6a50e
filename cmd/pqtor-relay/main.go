// Command pqtor-relay runs a single relay role (Guard, Middle, or Exit)
// as a node.Server.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/node"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/primitives"
)

func main() {
	roleFlag := flag.String("r", "middle", "relay role: guard|middle|exit")
	port := flag.Int("p", 0, "listen port")
	mode := flag.String("mode", "pq", "handshake variant: classic|pq|hybrid")
	flag.Parse()

	role, err := descriptor.ParseRole(*roleFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	variant, err := parseVariant(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port == 0 {
		fmt.Fprintln(os.Stderr, "missing required -p PORT")
		os.Exit(1)
	}

	var identity [20]byte
	if _, err := rand.Read(identity[:]); err != nil {
		fmt.Fprintf(os.Stderr, "identity generation failed: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var serverKey ntor.ClassicServerKey
	if variant == ntor.VariantClassic {
		priv, pub, err := primitives.GenerateX25519KeyPair()
		if err != nil {
			fmt.Fprintf(os.Stderr, "server key generation failed: %v\n", err)
			os.Exit(1)
		}
		serverKey = ntor.ClassicServerKey{Priv: priv, Pub: pub}
	}

	srv := &node.Server{
		Role:       role,
		Variant:    variant,
		Identity:   identity,
		ServerKey:  serverKey,
		ListenAddr: fmt.Sprintf("0.0.0.0:%d", *port),
		Logger:     logger,
	}

	fmt.Printf("=== pqtor relay (%s, %s) ===\n", role, variant)
	fmt.Printf("identity: %x\n", identity)
	fmt.Printf("listening on port %d\n", *port)

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "relay server error: %v\n", err)
		os.Exit(1)
	}
}

func parseVariant(mode string) (ntor.Variant, error) {
	switch mode {
	case "classic":
		return ntor.VariantClassic, nil
	case "pq":
		return ntor.VariantPQ, nil
	case "hybrid":
		return ntor.VariantHybrid, nil
	default:
		return 0, fmt.Errorf("unknown --mode %q (want classic|pq|hybrid)", mode)
	}
}
