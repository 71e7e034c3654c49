package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"ghostd/internal/session"
	"ghostd/pkg/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// HostMessage types accepted on /ws.
const (
	msgTextChanged = "text_changed"
	msgManual      = "manual"
	msgAccept      = "accept"
	msgDismiss     = "dismiss"
	msgDownload    = "download"
	msgPreload     = "preload"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     checkOrigin,
}

// checkOrigin admits non-browser clients and, when CORS is enabled, the
// configured origins. Without CORS the daemon is assumed to be local.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !corsEnabled {
		return true
	}
	return slices.Contains(corsAllowedOrigins, "*") || slices.Contains(corsAllowedOrigins, origin)
}

// handleWS serves GET /ws. Each connection gets its own editor session:
// client HostMessages drive it and every state change is pushed back as a
// types.SessionState.
func handleWS(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			zlog.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		ctx, cancel := joinContexts(serverBaseCtx, r.Context())
		defer cancel()

		l := zlog
		sess := session.New(svc, session.Options{
			Debounce: sessionDebounce,
			MaxWait:  sessionMaxWait,
			Logger:   &l,
		})
		go sess.Run(ctx)
		wsSessions.Inc()
		defer wsSessions.Dec()
		zlog.Info().Str("session", sess.ID()).Msg("websocket session opened")
		defer zlog.Info().Str("session", sess.ID()).Msg("websocket session closed")

		updates, unsubscribe := sess.Subscribe()
		defer unsubscribe()

		go readPump(ctx, conn, sess, cancel)
		writePump(ctx, conn, updates)
	}
}

// readPump decodes client messages until the connection fails.
func readPump(ctx context.Context, conn *websocket.Conn, sess *session.Session, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(maxBodyBytes)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zlog.Warn().Str("session", sess.ID()).Err(err).Msg("websocket read failed")
			}
			return
		}
		var msg types.HostMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			zlog.Debug().Str("session", sess.ID()).Err(err).Msg("websocket message ignored")
			continue
		}
		dispatch(ctx, sess, msg)
	}
}

func dispatch(ctx context.Context, sess *session.Session, msg types.HostMessage) {
	switch msg.Type {
	case msgTextChanged:
		sess.TextChanged(msg.Text, msg.Cursor)
	case msgManual:
		sess.RequestManual()
	case msgAccept:
		// the accepted text reaches the client in the next state push
		_, _ = sess.Accept(ctx)
	case msgDismiss:
		sess.Dismiss()
	case msgDownload:
		sess.StartDownload(ctx, msg.Reference)
	case msgPreload:
		sess.Preload()
	default:
		zlog.Debug().Str("session", sess.ID()).Str("type", msg.Type).Msg("unknown websocket message")
	}
}

// writePump forwards session states and keeps the connection alive.
func writePump(ctx context.Context, conn *websocket.Conn, updates <-chan types.SessionState) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case st := <-updates:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
