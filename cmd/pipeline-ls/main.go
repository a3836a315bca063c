package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"go.lsp.dev/jsonrpc2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kestrelci/pipeline-ls/internal/lsp"
)

var (
	// Version information - set during build
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type stdio struct{}

func (stdio) Read(p []byte) (n int, err error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (n int, err error) { return os.Stdout.Write(p) }
func (stdio) Close() error                      { return nil }

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pipeline-ls %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		return
	}

	logger := newLogger(*debug)
	defer func() { _ = logger.Sync() }()

	server := lsp.NewServer(logger)

	var rw io.ReadWriteCloser = stdio{}
	stream := jsonrpc2.NewStream(rw)
	conn := jsonrpc2.NewConn(stream)

	// The connection doubles as the notification channel for diagnostics.
	server.SetConnection(conn)

	conn.Go(context.Background(), server.Handler())
	<-conn.Done()
}

// newLogger builds a stderr-only logger; stdout belongs to the protocol
// stream.
func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}
