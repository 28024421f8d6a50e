// Command pqtor-origin is a minimal static HTTP server used as the
// external collaborator an exit-bridged circuit connects to (spec
// scenario D: HTTP through a built circuit).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
)

func main() {
	port := flag.Int("p", 8080, "listen port")
	body := flag.String("body", "hello from pqtor-origin\n", "response body for GET /")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(*body))
	})

	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	fmt.Println("=== pqtor origin ===")
	fmt.Printf("listening on %s\n", addr)

	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "origin server error: %v\n", err)
		os.Exit(1)
	}
}
