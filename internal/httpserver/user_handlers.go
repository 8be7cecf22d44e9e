package httpserver

import (
	"net/http"

	"inboxsync/internal/domain"
	"inboxsync/internal/service"
	"inboxsync/internal/ws"
)

type directoryEntry struct {
	domain.Participant
	IsOnline bool `json:"isOnline"`
}

func handleListUsers(userSvc *service.UserService, hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		users, err := userSvc.Directory(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		out := make([]directoryEntry, 0, len(users))
		for _, u := range users {
			out = append(out, directoryEntry{Participant: u, IsOnline: hub.Online(u.ID)})
		}
		writeJSON(w, http.StatusOK, out)
	}
}
