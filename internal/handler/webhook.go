package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/store"
)

// Webhook event types. NEW_MESSAGE shares its name with the relay frame.
const (
	webhookNewMessage        = string(model.NewMessage)
	webhookDeleteMessage     = "DELETE_MESSAGE"
	webhookDocumentProcessed = "DOCUMENT_PROCESSED"
)

const (
	defaultStatusLimit = 10
	indexTimeout       = time.Minute
)

// Submitter stores a message and broadcasts it to relay clients.
type Submitter interface {
	Submit(ctx context.Context, msg model.Message) (model.Message, error)
}

// Indexer hands stored messages to the document backend.
type Indexer interface {
	ProcessMessage(ctx context.Context, m model.Message) error
}

type webhookEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`

	// Set on chat replies posted back by the document backend.
	Answer   string   `json:"answer"`
	Thinking []string `json:"thinking"`
}

type webhookResponse struct {
	Success    bool           `json:"success"`
	Message    string         `json:"message"`
	Data       *model.Message `json:"data,omitempty"`
	DocumentID string         `json:"documentId,omitempty"`
}

// ServeWebhook ingests events from external services. Stored messages go
// through the hub, so connected clients see them, and are then indexed in
// the background. idx may be nil.
func ServeWebhook(st store.Store, hub Submitter, idx Indexer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var ev webhookEvent
		body, err := readBody(w, r)
		if err == nil {
			err = json.Unmarshal(body, &ev)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid webhook payload")
			return
		}

		// Backend chat replies carry no type.
		if ev.Type == "" && ev.Answer != "" {
			thinking := ev.Thinking
			if thinking == nil {
				thinking = []string{}
			}
			msg := model.Message{
				ID:           uuid.NewString(),
				SenderID:     "ai",
				ReceiverID:   "user",
				Content:      ev.Answer,
				Thinking:     thinking,
				IsAIResponse: true,
				Role:         "assistant",
			}.WithDefaults(time.Now())

			stored, err := hub.Submit(ctx, msg)
			if err != nil {
				slog.ErrorContext(ctx, "failed to save ai response", "error", err)
				writeError(w, http.StatusInternalServerError, "Failed to save AI response")
				return
			}
			index(idx, stored)
			writeJSON(w, http.StatusCreated, webhookResponse{
				Success: true,
				Message: "AI response saved successfully",
				Data:    &stored,
			})
			return
		}

		switch ev.Type {
		case webhookNewMessage:
			var msg model.Message
			if len(ev.Payload) == 0 || json.Unmarshal(ev.Payload, &msg) != nil ||
				(msg.Content == "" && msg.Attachment == nil) {
				writeError(w, http.StatusBadRequest, "Missing required fields")
				return
			}
			if msg.SenderID == "" {
				msg.SenderID = "webhook"
			}
			if msg.ReceiverID == "" {
				msg.ReceiverID = "system"
			}
			if err := msg.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, "Invalid message format")
				return
			}

			stored, err := hub.Submit(ctx, msg.WithDefaults(time.Now()))
			if err != nil {
				slog.ErrorContext(ctx, "failed to save webhook message", "error", err, "message_id", msg.ID)
				writeError(w, http.StatusInternalServerError, "Failed to save message")
				return
			}
			index(idx, stored)
			writeJSON(w, http.StatusCreated, webhookResponse{
				Success: true,
				Message: "Message created successfully",
				Data:    &stored,
			})

		case webhookDeleteMessage:
			var p struct {
				ID string `json:"id"`
			}
			if len(ev.Payload) == 0 || json.Unmarshal(ev.Payload, &p) != nil || p.ID == "" {
				writeError(w, http.StatusBadRequest, "Missing message ID")
				return
			}

			err := st.Delete(ctx, p.ID)
			switch {
			case errors.Is(err, store.ErrNotFound):
				writeError(w, http.StatusNotFound, "Message not found")
			case err != nil:
				slog.ErrorContext(ctx, "failed to delete message", "error", err, "message_id", p.ID)
				writeError(w, http.StatusInternalServerError, "Failed to delete message")
			default:
				writeJSON(w, http.StatusOK, webhookResponse{Success: true, Message: "Message deleted successfully"})
			}

		case webhookDocumentProcessed:
			var p struct {
				DocumentID string `json:"documentId"`
			}
			if len(ev.Payload) == 0 || json.Unmarshal(ev.Payload, &p) != nil || p.DocumentID == "" {
				writeError(w, http.StatusBadRequest, "Missing document ID")
				return
			}
			slog.InfoContext(ctx, "document processed", "document_id", p.DocumentID)
			writeJSON(w, http.StatusOK, webhookResponse{
				Success:    true,
				Message:    "Document processing event received",
				DocumentID: p.DocumentID,
			})

		default:
			writeError(w, http.StatusBadRequest, "Invalid webhook type")
		}
	}
}

// index forwards m to the backend without holding up the response.
func index(idx Indexer, m model.Message) {
	if idx == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := idx.ProcessMessage(ctx, m); err != nil {
			slog.Warn("failed to index message", "error", err, "message_id", m.ID)
		}
	}()
}

type webhookStatus struct {
	Status       string          `json:"status"`
	Timestamp    string          `json:"timestamp"`
	RecentEvents []model.Message `json:"recentEvents"`
}

// WebhookStatus reports the webhook as active along with the newest
// ?limit= messages, newest first.
func WebhookStatus(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil || limit <= 0 {
			limit = defaultStatusLimit
		}

		msgs, err := st.ReadAll(r.Context())
		if err != nil {
			slog.ErrorContext(r.Context(), "failed to load webhook data", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load webhook data")
			return
		}

		recent := make([]model.Message, 0, min(limit, len(msgs)))
		for i := len(msgs) - 1; i >= 0 && len(recent) < limit; i-- {
			recent = append(recent, msgs[i])
		}
		writeJSON(w, http.StatusOK, webhookStatus{
			Status:       "active",
			Timestamp:    time.Now().UTC().Format(model.TimestampLayout),
			RecentEvents: recent,
		})
	}
}
