package server

import (
	"context"
	"net/http"
	"net/url"
	"slices"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/captionflow/internal/session"
	"github.com/MrWong99/captionflow/internal/store"
)

// Inbound message types sent by the page.
const (
	msgTime     = "time"
	msgSeek     = "seek"
	msgNavigate = "navigate"
	msgMedia    = "media"
	msgToggle   = "toggle"
	msgRetry    = "retry"
)

// clientMessage is one page-to-daemon event. Only the fields relevant to
// Type are read.
type clientMessage struct {
	Type       string `json:"type"`
	PositionMs int64  `json:"position_ms"`
	MediaID    string `json:"media_id"`
	Enabled    bool   `json:"enabled"`
	BlockID    int    `json:"block_id"`
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	release, ok := sess.Page.Attach()
	if !ok {
		writeError(w, http.StatusConflict, "session already has a connection")
		return
	}
	defer release()

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("server: websocket accept", "session_id", sess.ID, "err", err)
		return
	}
	defer conn.CloseNow()

	logger := s.logger.With("session_id", sess.ID)
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unsubscribe := sess.Store.Subscribe(func(c store.Change) {
		switch c.Topic {
		case store.TopicCurrent:
			sess.Page.Send(session.Message{Type: session.MsgCaption, Payload: c.Snapshot.Current})
		case store.TopicStatus:
			sess.Page.Send(session.Message{Type: session.MsgStatus, Payload: c.Snapshot.Status})
		}
	})
	defer unsubscribe()
	sess.Page.Send(session.Message{Type: session.MsgStatus, Payload: sess.Store.Snapshot().Status})

	go s.writeLoop(ctx, cancel, conn, sess)

	for {
		var msg clientMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
				logger.Debug("server: websocket read ended", "err", err)
			}
			return
		}
		sess.Touch()
		s.dispatch(sess, msg)
	}
}

// writeLoop drains the page outbox onto conn until ctx ends or the session
// closes.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, sess *session.Session) {
	defer cancel()
	out := sess.Page.Outbox()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				s.logger.Debug("server: websocket write", "session_id", sess.ID, "err", err)
				return
			}
		}
	}
}

func (s *Server) dispatch(sess *session.Session, msg clientMessage) {
	switch msg.Type {
	case msgTime:
		sess.Clock.Advance(msg.PositionMs)
	case msgSeek:
		sess.Clock.Seek(msg.PositionMs)
	case msgMedia:
		sess.Page.SetMediaID(msg.MediaID)
	case msgNavigate:
		if msg.MediaID != "" {
			sess.Page.SetMediaID(msg.MediaID)
		}
		sess.Orchestrator.Navigate()
	case msgToggle:
		if !sess.Page.Toggle(msg.Enabled) {
			s.logger.Debug("server: toggle without mounted control", "session_id", sess.ID)
		}
	case msgRetry:
		sess.Orchestrator.RetryBlock(msg.BlockID)
	default:
		s.logger.Debug("server: unknown message type", "session_id", sess.ID, "type", msg.Type)
	}
}

// acceptOptions maps the configured origins onto WebSocket origin patterns.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.origins) == 0 || slices.Contains(s.origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(s.origins))
	for _, o := range s.origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
