package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
	"inboxsync/internal/service"
)

// Clients ping every 30s; a connection silent for longer than this is dead.
const readTimeout = 75 * time.Second

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

// makeCheckOrigin admits requests without an Origin header, which only
// browsers send. "*" admits every origin.
func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if _, ok := allowed["*"]; ok {
		return func(r *http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol), then dispatches events:
//   - conversationDeleted -> hide for the user & forward to the user's other sessions
//   - userTyping          -> forward typing indicator to the other members
func MakeHandler(
	hub *Hub,
	auth *service.AuthService,
	convs *service.ConversationService,
	msgs *service.MessageService,
	allowedOrigins []string,
	logger *slog.Logger,
) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ws_handler")
	checkOrigin := makeCheckOrigin(allowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		// The request context ends with the handler; background work outlives it.
		ctx := context.WithoutCancel(r.Context())
		log := logger.With("user_id", user.ID)

		peer, first := hub.Register(user.ID, conn)
		log.Info("connected")
		defer func() {
			if hub.Unregister(peer) {
				announce(hub, log, user.ID, false)
			}
			log.Info("disconnected")
		}()
		if first {
			announce(hub, log, user.ID, true)
		}
		greet(peer, hub, log)

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		conn.SetPingHandler(func(data string) error {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
			if errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return err
		})

		for {
			var env event.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug("read failed", "error", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

			switch env.Type {
			case event.ConversationDeleted:
				if env.ConversationID == "" {
					sendError(peer, "invalid_event", "conversationDeleted requires conversationId")
					continue
				}
				if _, err := convs.HideOne(ctx, user.ID, env.ConversationID); err != nil {
					if errors.Is(err, domain.ErrForbidden) {
						sendError(peer, "forbidden", "not allowed for this conversation")
						continue
					}
					log.Warn("hide conversation", "conversation_id", env.ConversationID, "error", err)
					sendError(peer, "internal", "failed to delete conversation")
					continue
				}
				hub.NotifySiblings(peer, env)

			case event.UserTyping:
				var p event.UserTypingPayload
				if err := env.Decode(&p); err != nil || env.ConversationID == "" {
					sendError(peer, "invalid_event", "userTyping requires conversationId and payload")
					continue
				}
				if err := msgs.Typing(ctx, user.ID, env.ConversationID, p.IsTyping); err != nil {
					if errors.Is(err, domain.ErrForbidden) || errors.Is(err, domain.ErrNotFound) {
						sendError(peer, "forbidden", "not allowed for this conversation")
						continue
					}
					log.Warn("typing", "conversation_id", env.ConversationID, "error", err)
				}

			default:
				log.Debug("unsupported event", "type", env.Type)
				sendError(peer, "unsupported", fmt.Sprintf("unsupported event type %q", env.Type))
			}
		}
	}
}

func announce(hub *Hub, log *slog.Logger, userID string, online bool) {
	env, err := event.New(event.UserOnlineStatus, "", event.UserOnlineStatusPayload{UserID: userID, IsOnline: online})
	if err != nil {
		log.Error("encode online status", "error", err)
		return
	}
	hub.BroadcastAll(env, userID)
}

// greet tells a fresh connection who is online right now.
func greet(peer *Peer, hub *Hub, log *slog.Logger) {
	for _, id := range hub.Users() {
		if id == peer.UserID {
			continue
		}
		env, err := event.New(event.UserOnlineStatus, "", event.UserOnlineStatusPayload{UserID: id, IsOnline: true})
		if err != nil {
			log.Error("encode online status", "error", err)
			return
		}
		if err := peer.send(env); err != nil {
			return
		}
	}
}

func sendError(peer *Peer, code, msg string) {
	env, err := event.New(event.Error, "", event.ErrorPayload{Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = peer.send(env)
}
