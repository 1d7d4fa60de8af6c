package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/RichardoC/padchat/internal/db"
	"go.uber.org/zap"
)

type Handler struct {
	db     *db.Database
	bridge *Bridge
	convID int64
	logger *zap.Logger
}

// NewHandler serves the single session driven through bridge. conversationID
// is the journal conversation the session writes to.
func NewHandler(database *db.Database, bridge *Bridge, conversationID int64, logger *zap.Logger) *Handler {
	return &Handler{
		db:     database,
		bridge: bridge,
		convID: conversationID,
		logger: logger,
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/api/message", h.HandleMessage)
	mux.HandleFunc("/api/messages", h.GetMessages)
	mux.HandleFunc("/api/messages/search", h.SearchMessages)
	mux.HandleFunc("/api/conversations", h.GetConversations)
	mux.HandleFunc("/api/conversations/delete", h.DeleteConversation)
	mux.HandleFunc("/api/conversations/update", h.UpdateConversation)
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Reply          string `json:"reply"`
	Notice         bool   `json:"notice,omitempty"`
	ConversationID int64  `json:"conversation_id"`
}

type UpdateConversationRequest struct {
	Title string `json:"title"`
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rep, err := h.bridge.Send(r.Context(), req.Content)
	if errors.Is(err, ErrSessionClosed) {
		http.Error(w, "Session has ended", http.StatusGone)
		return
	}
	if err != nil {
		h.logger.Error("Failed to process message", zap.Error(err))
		http.Error(w, fmt.Sprintf("Failed to process message: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, MessageResponse{
		Reply:          rep.Text,
		Notice:         rep.Notice,
		ConversationID: h.convID,
	})
}

// GetMessages returns the transcript of the given conversation, or of the
// current session when conversation_id is omitted.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID := h.convID
	if raw := r.URL.Query().Get("conversation_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
			return
		}
		convID = id
	}

	messages, err := h.db.GetConversationHistory(convID, 50)
	if err != nil {
		h.logger.Error("Failed to get messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, messages)
}

func (h *Handler) SearchMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "Query parameter 'q' is required", http.StatusBadRequest)
		return
	}

	results, err := h.db.SearchMessages(query)
	if err != nil {
		h.logger.Error("Failed to search messages", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, h.logger, results)
}

func (h *Handler) GetConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conversations, err := h.db.GetConversations()
	if err != nil {
		h.logger.Error("Failed to get conversations",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.logger.Debug("Retrieved conversations",
		zap.Int("count", len(conversations)),
		zap.String("path", r.URL.Path))

	writeJSON(w, h.logger, conversations)
}

func (h *Handler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}
	if convID == h.convID {
		http.Error(w, "Cannot delete the active conversation", http.StatusConflict)
		return
	}

	if err := h.db.DeleteConversation(convID); err != nil {
		h.logger.Error("Failed to delete conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) UpdateConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	convID, err := strconv.ParseInt(r.URL.Query().Get("conversation_id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid conversation ID", http.StatusBadRequest)
		return
	}

	var req UpdateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.UpdateConversationTitle(convID, req.Title); err != nil {
		h.logger.Error("Failed to update conversation", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
