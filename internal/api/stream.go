package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/rewired-gh/jackpotengine/internal/models"
)

const (
	streamPollInterval = 250 * time.Millisecond
	streamWriteWait    = 10 * time.Second
)

func newUpgrader(origins []string) websocket.Upgrader {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleTaskStream pushes the task record over a websocket each time its state,
// progress or phase changes, then closes once the task is terminal.
func (s *Server) handleTaskStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	task, err := s.engine.Task(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("WebSocket upgrade failed for task %s: %v", id, err)
		return
	}
	defer conn.Close()

	// Hijacked connections outlive the request context; watch the socket instead.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var last models.Task
	for {
		if task.State != last.State || task.Progress != last.Progress || task.Phase != last.Phase {
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(task); err != nil {
				log.Debug("Task stream %s closed: %v", id, err)
				return
			}
			last = *task
		}
		if task.State.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(task.State))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		next, err := s.engine.Task(ctx, id)
		if err != nil {
			log.Error("Failed to poll task %s: %v", id, err)
			msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "task lookup failed")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(streamWriteWait))
			return
		}
		task = next
	}
}
