// Command pqtor-directory serves the synthetic node-list document used
// by test-mode deployments, and accepts relay self-registration.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/pqtor/tor-pq/directory"
)

func main() {
	port := flag.Int("p", 9051, "directory listen port")
	tPort := flag.Int("t", 9051, "legacy alias for -p, accepted for CLI-surface parity")
	flag.Parse()
	pSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "p" {
			pSet = true
		}
	})
	if !pSet {
		*port = *tPort
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	srv := directory.NewServer(logger, nil)
	addr := fmt.Sprintf("0.0.0.0:%d", *port)

	fmt.Println("=== pqtor directory ===")
	fmt.Printf("listening on %s\n", addr)
	fmt.Println("GET  /nodes     - list registered nodes")
	fmt.Println("POST /register  - register a node (test mode)")

	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		fmt.Fprintf(os.Stderr, "directory server error: %v\n", err)
		os.Exit(1)
	}
}
