package mcp

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"nhooyr.io/websocket"
)

// WSTransport serves the MCP protocol over WebSocket connections. Multiple
// clients may be connected at once; each connection gets its own read loop
// and requests within a connection are handled in order.
type WSTransport struct {
	server *Server
	logger *log.Logger
}

// NewWSTransport constructs a WSTransport for the given MCP server.
func NewWSTransport(srv *Server) *WSTransport {
	return &WSTransport{
		server: srv,
		logger: log.New(os.Stderr, "claimbridge-ws: ", log.LstdFlags),
	}
}

// ListenAndServe accepts WebSocket connections on addr until ctx is
// cancelled. The HTTP server is shut down gracefully with a short timeout.
func (t *WSTransport) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", t.handleConnection)

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	t.logger.Printf("listening on ws://%s/mcp", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleConnection upgrades a single HTTP request and runs the per-connection
// request loop until the peer closes or an error occurs.
func (t *WSTransport) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		t.logger.Printf("accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx := r.Context()
	t.logger.Printf("client connected: %s", r.RemoteAddr)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				t.logger.Printf("client disconnected: %s", r.RemoteAddr)
			} else if ctx.Err() == nil {
				t.logger.Printf("read: %v", err)
			}
			return
		}
		if typ != websocket.MessageText || len(data) == 0 {
			continue
		}

		resp, err := t.server.HandleRequest(ctx, data)
		if err != nil {
			t.logger.Printf("handler error: %v", err)
			resp = internalErrorResponse(data, err)
		}

		if err := conn.Write(ctx, websocket.MessageText, resp); err != nil {
			t.logger.Printf("write: %v", err)
			return
		}
	}
}
