package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"inboxsync/internal/domain"
	"inboxsync/internal/service"
)

type conversationCreateRequest struct {
	ParticipantID string          `json:"participantId"`
	Product       *domain.Product `json:"product"`
}

type conversationPage struct {
	Conversations []domain.ConversationSummary `json:"conversations"`
	HasMore       bool                         `json:"hasMore"`
}

type bulkDeleteRequest struct {
	ConversationIDs []string `json:"conversationIds"`
}

type bulkDeleteResponse struct {
	Deleted []string `json:"deleted"`
}

func queryInt(r *http.Request, key string, def int) (int, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func handleListConversations(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		page, ok := queryInt(r, "page", 1)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid page"})
			return
		}
		limit, ok := queryInt(r, "limit", service.DefaultPageSize)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}

		res, err := convSvc.List(r.Context(), currentUser.ID, page, limit, r.URL.Query().Get("sort"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, conversationPage{Conversations: res.Conversations, HasMore: res.HasMore})
	}
}

func handleCreateConversation(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req conversationCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}

		conv, created, err := convSvc.Create(r.Context(), service.ConversationCreateInput{
			ParticipantID: req.ParticipantID,
			Product:       req.Product,
		}, currentUser.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, conv)
	}
}

func handleBulkDelete(convSvc *service.ConversationService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		if currentUser == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		var req bulkDeleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}

		deleted, err := convSvc.BulkDelete(r.Context(), currentUser.ID, req.ConversationIDs)
		if err != nil {
			writeError(w, err)
			return
		}
		if deleted == nil {
			deleted = []string{}
		}
		writeJSON(w, http.StatusOK, bulkDeleteResponse{Deleted: deleted})
	}
}
