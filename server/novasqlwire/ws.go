package novasqlwire

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader accepts any origin: novasqlwire has no browser-facing cookie
// auth to protect, so cross-origin is not a meaningful attack surface
// here the way it would be for a session-cookie API.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a WebSocket and dispatches ExecuteRequest/
// ExecuteResponse frames over it exactly like the TCP listener in Run,
// minus the length-prefix framing TCP needs and WebSocket already
// provides per-message. One Database (and so one session's worth of
// USE <db> state) is opened per connection, same as handleConn.
func ServeWS(w http.ResponseWriter, r *http.Request, workdir string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("novasqlwire: ws upgrade: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	executor, cleanup := newSessionExecutor(workdir)
	defer func() { _ = cleanup() }()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req ExecuteRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = writeWSResponse(conn, ExecuteResponse{Error: "novasqlwire: bad json: " + err.Error()})
			continue
		}

		res, err := executor.ExecSQL(req.SQL)
		if err != nil {
			_ = writeWSResponse(conn, ExecuteResponse{ID: req.ID, Error: err.Error()})
			continue
		}
		_ = writeWSResponse(conn, ExecuteResponse{ID: req.ID, Result: res})
	}
}

func writeWSResponse(conn *websocket.Conn, res ExecuteResponse) error {
	b, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

// RunWS serves the WebSocket listener on addr at path "/", alongside the
// TCP listener Run serves. Intended to be launched in its own goroutine by
// cmd/server so browser clients can reach the same engine without a raw
// TCP socket.
func RunWS(ctx context.Context, addr, workdir string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, workdir)
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Printf("novasql ws server listening on %s (workdir=%s)", addr, workdir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
