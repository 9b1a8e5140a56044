// Package mcp – transport.go provides the StdioTransport that serves the
// handler over line-delimited JSON-RPC 2.0 on stdin / stdout.
//
// Protocol rules:
//   - Each request arrives as a single newline-terminated line on stdin.
//   - Each response is written as a single newline-terminated line to
//     stdout. Notifications get no line at all.
//   - ALL diagnostic output goes to stderr. Any stray bytes on stdout
//     corrupt the framing.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioConnectionID is the connection id reported to tools for stdio calls.
const StdioConnectionID = "stdio"

// StdioTransport reads requests from an io.Reader and writes responses to an
// io.Writer.
type StdioTransport struct {
	handler *Handler
	in      io.Reader
	out     io.Writer
	logger  *log.Logger
}

// NewStdioTransport constructs a StdioTransport that reads from in and writes
// to out. Log messages go to stderr.
//
//	t := mcp.NewStdioTransport(h, os.Stdin, os.Stdout)
//	t.Serve(ctx)
func NewStdioTransport(h *Handler, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		handler: h,
		in:      in,
		out:     out,
		logger:  log.New(os.Stderr, "esmcp-stdio: ", log.LstdFlags),
	}
}

// Serve processes requests until stdin is closed or ctx is cancelled.
// Requests are handled synchronously in arrival order.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Search sources and schema documents can be large.
	const maxBuf = 4 * 1024 * 1024
	buf := make([]byte, maxBuf)
	scanner.Buffer(buf, maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled – shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed – shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, notification := t.handler.HandleMessage(ctx, line, StdioConnectionID)
		if notification {
			continue
		}
		if _, err := fmt.Fprintf(t.out, "%s\n", resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}
	}
}
