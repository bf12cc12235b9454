package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport serves line-delimited JSON-RPC 2.0 over a reader/writer
// pair, one request per line, one response per line. Stdout carries nothing
// but response frames; all diagnostics go to stderr, because any stray byte
// on stdout corrupts the framing the agent host parses.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport wires a transport around the given server. Pass
// os.Stdin/os.Stdout to serve a real MCP session.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "claimbridge-mcp: ", log.LstdFlags),
	}
}

// Serve processes requests sequentially until the input closes or ctx is
// cancelled. Draft tool calls are order-dependent (the cache tracks the last
// touched draft), so requests are never handled concurrently.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Tool payloads can carry whole composition lists; the default 64KB
	// scanner buffer is not enough.
	const maxBuf = 4 * 1024 * 1024
	buf := make([]byte, maxBuf)
	scanner.Buffer(buf, maxBuf)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("stdin scanner error: %v", err)
				return fmt.Errorf("stdin scanner: %w", err)
			}
			t.logger.Println("stdin closed, shutting down")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			// The caller is an agent loop that must always receive a frame
			// it can interpret, even when the server itself failed.
			t.logger.Printf("handler error: %v", err)
			resp = internalErrorResponse(line, err)
		}

		if err := t.writeResponse(resp); err != nil {
			t.logger.Printf("write error: %v", err)
			return fmt.Errorf("write response: %w", err)
		}

		// A signal may have arrived while the handler was blocked on the
		// database; don't start reading another line in that case.
		select {
		case <-ctx.Done():
			t.logger.Println("context cancelled after handler, shutting down")
			return ctx.Err()
		default:
		}
	}
}

func (t *StdioTransport) writeResponse(resp []byte) error {
	_, err := fmt.Fprintf(t.out, "%s\n", resp)
	return err
}

// internalErrorResponse builds a fallback JSON-RPC error frame, recovering
// the request ID from the raw bytes when possible so the caller can
// correlate it.
func internalErrorResponse(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return data
}
