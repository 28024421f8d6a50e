// Command pqtor-client builds a 3-hop circuit through a synthetic
// directory's Guard/Middle/Exit nodes and exposes it as a local SOCKS5
// proxy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pqtor/tor-pq/client"
	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/directory"
	"github.com/pqtor/tor-pq/link"
	"github.com/pqtor/tor-pq/ntor"
	"github.com/pqtor/tor-pq/pathselect"
	"github.com/pqtor/tor-pq/socks"
)

func main() {
	dirURL := flag.String("u", "http://127.0.0.1:9051", "directory base URL")
	socksHost := flag.String("d", "127.0.0.1", "SOCKS5 listen host")
	socksPort := flag.Int("p", 9050, "SOCKS5 listen port")
	mode := flag.String("mode", "pq", "handshake variant: classic|pq|hybrid")
	flag.Parse()

	variant, err := parseVariant(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, logFile := setupLogging()
	defer func() { _ = logFile.Close() }()

	fmt.Println("=== pqtor client ===")
	fmt.Println()

	fmt.Printf("Fetching node list from %s...\n", *dirURL)
	nodes, err := directory.FetchNodes(*dirURL)
	if err != nil {
		fmt.Printf("  failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("  %d nodes\n", len(nodes))

	fmt.Println("Selecting path and building circuit...")
	circ, circLink := buildCircuit(nodes, variant, logger)
	fmt.Printf("  3-hop circuit built (ID: 0x%08x)\n", circ.ID)

	socksAddr := fmt.Sprintf("%s:%d", *socksHost, *socksPort)
	runSOCKSProxy(socksAddr, circ, circLink, logger)
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

func setupLogging() (*slog.Logger, *os.File) {
	logFile, err := os.OpenFile("pqtor-debug.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log file: %v\n", err)
		os.Exit(1)
	}
	fileHandler := slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug})
	stdoutHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(&multiHandler{handlers: []slog.Handler{fileHandler, stdoutHandler}})
	return logger, logFile
}

func buildCircuit(nodes []descriptor.NodeInfo, variant ntor.Variant, logger *slog.Logger) (*client.Circuit, *link.Link) {
	for attempt := 0; attempt < 3; attempt++ {
		circ, l, err := tryBuildCircuit(nodes, variant, logger)
		if err != nil {
			fmt.Printf("  attempt %d failed: %v\n", attempt, err)
			continue
		}
		return circ, l
	}
	fmt.Println("failed to build circuit after 3 attempts")
	os.Exit(1)
	return nil, nil
}

func tryBuildCircuit(nodes []descriptor.NodeInfo, variant ntor.Variant, logger *slog.Logger) (*client.Circuit, *link.Link, error) {
	path, err := pathselect.SelectPath(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("path selection: %w", err)
	}
	fmt.Printf("  path: %s -> %s -> %s\n", path.Guard.Address(), path.Middle.Address(), path.Exit.Address())

	l, err := link.Dial(path.Guard.Address(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("guard connection: %w", err)
	}

	_ = l.SetDeadline(time.Now().Add(30 * time.Second))
	circ, err := client.Create(l, variant, path.Guard, logger)
	if err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("circuit create: %w", err)
	}

	if err := circ.Extend(path.Middle, logger); err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("extend to middle: %w", err)
	}
	if err := circ.Extend(path.Exit, logger); err != nil {
		_ = l.Close()
		return nil, nil, fmt.Errorf("extend to exit: %w", err)
	}

	_ = l.SetDeadline(time.Time{})
	return circ, l, nil
}

func runSOCKSProxy(addr string, circ *client.Circuit, circLink *link.Link, logger *slog.Logger) {
	var mu sync.Mutex
	fmt.Printf("\nStarting SOCKS5 proxy on %s...\n", addr)

	srv := &socks.Server{
		Addr:   addr,
		Logger: logger,
		GetCirc: func() (*client.Circuit, error) {
			mu.Lock()
			defer mu.Unlock()
			if circ == nil {
				return nil, fmt.Errorf("circuit destroyed")
			}
			return circ, nil
		},
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nshutting down...")
		_ = srv.Close()
		mu.Lock()
		_ = circ.Destroy(0)
		circ = nil
		mu.Unlock()
		_ = circLink.Close()
	}()

	fmt.Println("ready. Use: curl --socks5-hostname " + addr + " http://example.com")
	if err := srv.ListenAndServe(); err != nil {
		fmt.Printf("SOCKS5 server error: %v\n", err)
	}
}

// multiHandler fans out slog records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
