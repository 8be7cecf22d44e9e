package httpserver

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"inboxsync/internal/config"
	"inboxsync/internal/security"
	"inboxsync/internal/service"
	"inboxsync/internal/store/sqlite"
	"inboxsync/internal/ws"
)

// Services bundles the services behind the HTTP and WebSocket endpoints.
type Services struct {
	Auth          *service.AuthService
	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
}

// NewServices wires the sqlite repositories into the services. Push events
// go through hub.
func NewServices(db *sql.DB, hub *ws.Hub, tokenSvc *security.TokenService, passwordHasher *security.PasswordHasher, logger *slog.Logger) *Services {
	userRepo := sqlite.NewUserRepo(db)
	convRepo := sqlite.NewConversationRepo(db)
	msgRepo := sqlite.NewMessageRepo(db)

	return &Services{
		Auth:          service.NewAuthService(userRepo, tokenSvc, passwordHasher),
		Users:         service.NewUserService(userRepo),
		Conversations: service.NewConversationService(convRepo, userRepo, hub, logger),
		Messages:      service.NewMessageService(convRepo, msgRepo, hub, logger),
	}
}

// NewRouter constructs the main HTTP router and wires routes, services, and middleware.
func NewRouter(cfg *config.Server, svc *Services, hub *ws.Hub, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": cfg.AppName, "version": "1.0.0"})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/api", func(r chi.Router) {
		// The push channel is long-lived and authenticates itself.
		r.Get("/ws", ws.MakeHandler(hub, svc.Auth, svc.Conversations, svc.Messages, cfg.CORSOrigins, logger))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			// Auth routes (no auth required)
			r.Route("/auth", func(r chi.Router) {
				r.Post("/register", handleRegister(svc.Auth))
				r.Post("/login", handleLogin(svc.Auth))
			})

			// Authenticated routes
			r.Group(func(r chi.Router) {
				r.Use(AuthMiddleware(svc.Auth, logger))

				r.Get("/auth/me", handleMe())
				r.Get("/users", handleListUsers(svc.Users, hub))

				r.Route("/conversations", func(r chi.Router) {
					r.Get("/", handleListConversations(svc.Conversations))
					r.Post("/", handleCreateConversation(svc.Conversations))
					r.Delete("/bulk-delete", handleBulkDelete(svc.Conversations))
					r.Post("/{conversationID}/messages", handleCreateMessage(svc.Messages))
					r.Patch("/{conversationID}/messages/{messageID}", handleEditMessage(svc.Messages))
					r.Delete("/{conversationID}/messages/{messageID}", handleDeleteMessage(svc.Messages))
					r.Post("/{conversationID}/read", handleMarkConversationRead(svc.Messages))
				})
			})
		})
	})

	return r
}

// writeJSON is a small helper to send JSON responses.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}
