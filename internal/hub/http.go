package hub

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/auth"
	"github.com/teamchat/chat-app/internal/chat"
	"github.com/teamchat/chat-app/internal/metrics"
	"github.com/teamchat/chat-app/internal/protocol"
)

// historyResponse is the body of GET /api/channels/{id}/messages.
type historyResponse struct {
	Messages []protocol.Message `json:"messages"`
	HasMore  bool               `json:"has_more"`
	Total    int                `json:"total"`
	Page     int                `json:"page,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HistoryHandler serves history over HTTP for clients that load a channel
// before their socket is up. It accepts ?page=&limit= or ?before=&limit= and
// requires the same bearer token as the WebSocket handshake.
func (h *Hub) HistoryHandler(authenticator auth.Authenticator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		metrics.HistoryRequests.WithLabelValues("http").Inc()

		userID, err := authenticator.Authenticate(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err)
			return
		}

		channelID := r.PathValue("id")
		q := r.URL.Query()
		limit, _ := strconv.Atoi(q.Get("limit"))

		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		var resp historyResponse
		if before := q.Get("before"); before != "" {
			page, err := h.history.FetchBefore(ctx, userID, channelID, before, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			resp = historyResponse{Messages: chat.WireAll(page.Messages), HasMore: page.HasMore, Total: page.Total}
		} else {
			pageNum := 1
			if v := q.Get("page"); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					writeError(w, apperr.Validation("hub.history", "page must be a number"))
					return
				}
				pageNum = n
			}
			page, err := h.history.Fetch(ctx, userID, channelID, pageNum, limit)
			if err != nil {
				writeError(w, err)
				return
			}
			resp = historyResponse{Messages: chat.WireAll(page.Messages), HasMore: page.HasMore, Total: page.Total, Page: page.Page}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func writeError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apperr.KindAuth:
		status = http.StatusUnauthorized
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindForbidden:
		status = http.StatusForbidden
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperr.KindPersistence:
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		log.Printf("[hub] http history failed: %v", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: kind.Code(), Message: apperr.Message(err)})
}
