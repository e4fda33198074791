package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"storyforge/internal/domain"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

func (a *App) upgrader() websocket.Upgrader {
	allow := make(map[string]struct{}, len(a.Cfg.AllowedOrigins))
	for _, origin := range a.Cfg.AllowedOrigins {
		allow[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Non-browser clients send no Origin header.
				return true
			}
			_, ok := allow[origin]
			return ok
		},
	}
}

// JobEvents streams progress events for one job over a WebSocket. The first
// frame is a snapshot of the current state, so clients never start at 0%;
// the stream ends with the terminal event followed by a close frame.
func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := a.Registry.Get(id)
	if err != nil {
		a.jsonError(w, http.StatusNotFound, domain.KindValidation, "job not found")
		return
	}

	upgrader := a.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.Debug().Err(err).Str("job_id", id).Msg("handlers: websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	sub := a.Bus.Subscribe(id)
	defer sub.Close()

	// The reader exists only to notice the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Snapshot first. The bus primes the subscription with the latest event
	// when the job has published anything; otherwise synthesize one from the
	// record so fresh subscribers still get a frame.
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			_ = a.writeEvent(conn, snapshotEvent(rec))
			a.closeStream(conn)
			return
		}
		if !a.writeEvent(conn, ev) {
			return
		}
		if ev.Phase.Terminal() {
			a.closeStream(conn)
			return
		}
	default:
		if !a.writeEvent(conn, snapshotEvent(rec)) {
			return
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				a.closeStream(conn)
				return
			}
			if !a.writeEvent(conn, ev) {
				return
			}
			if ev.Phase.Terminal() {
				a.closeStream(conn)
				return
			}
		}
	}
}

func (a *App) writeEvent(conn *websocket.Conn, ev domain.ProgressEvent) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(ev); err != nil {
		a.Log.Debug().Err(err).Str("job_id", ev.JobID).Msg("handlers: websocket write failed")
		return false
	}
	return true
}

func (a *App) closeStream(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
}

// snapshotEvent derives a progress frame from a record for subscribers that
// attach before the first published event or after eviction of the stream.
func snapshotEvent(rec domain.JobRecord) domain.ProgressEvent {
	phase := rec.Phase
	switch rec.State {
	case domain.JobStateFailed:
		phase = domain.PhaseFailed
	case domain.JobStateCancelled:
		phase = domain.PhaseCancelled
	}
	msg := "job " + string(rec.State)
	if rec.Err != nil {
		msg = rec.Err.Message
	}
	return domain.ProgressEvent{
		JobID:     rec.ID,
		Phase:     phase,
		Progress:  rec.Progress,
		Message:   msg,
		Timestamp: rec.UpdatedAt,
	}
}
