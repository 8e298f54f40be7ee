package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/scrypster/cogwire/internal/capture"
)

// Monitor serves the live event stream on a localhost port: /ws for the
// WebSocket feed, /healthz for liveness.
type Monitor struct {
	hub    *Hub
	server *http.Server
}

// NewMonitor builds a monitor listening on addr (e.g. "127.0.0.1:6380").
func NewMonitor(addr string) *Monitor {
	hub := NewHub()
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d}`, hub.ClientCount())
	})

	return &Monitor{
		hub: hub,
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Start runs the hub and HTTP listener in the background. A listen
// failure is logged by the caller; the capture path never depends on the
// monitor being up.
func (m *Monitor) Start() {
	go m.hub.Run()
	go func() {
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.hub.log.Printf("monitor listen %s: %v", m.server.Addr, err)
		}
	}()
}

// Observer returns a capture observer that mirrors every event to the
// connected clients. The payload is the event summary, not raw bytes.
func (m *Monitor) Observer() capture.Observer {
	return func(ev *capture.Event) {
		m.hub.Broadcast(map[string]any{
			"type":  "capture_event",
			"event": ev,
		})
	}
}

// Stop shuts the listener and hub down.
func (m *Monitor) Stop(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_ = m.server.Shutdown(shutdownCtx)
	m.hub.Stop()
}
