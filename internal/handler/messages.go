package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/johndosdos/relay/internal/metrics"
	"github.com/johndosdos/relay/internal/model"
	"github.com/johndosdos/relay/internal/store"
)

// ListMessages returns the whole message log.
func ListMessages(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := st.ReadAll(r.Context())
		if err != nil {
			metrics.StoreErrors.WithLabelValues("read").Inc()
			slog.ErrorContext(r.Context(), "failed to load messages", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load messages")
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// CreateMessage appends a message posted by a client that has no relay
// connection. The message is not broadcast.
func CreateMessage(st store.Store, sanitizer model.Sanitizer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		body, err := readBody(w, r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid message format")
			return
		}
		msg, err := model.DecodeMessage(body)
		if err != nil {
			slog.DebugContext(ctx, "rejected message", "error", err)
			writeError(w, http.StatusBadRequest, "Invalid message format")
			return
		}

		msg = msg.WithDefaults(time.Now())
		msg.Sanitize(sanitizer)

		stored, err := st.Append(ctx, msg)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("append").Inc()
			slog.ErrorContext(ctx, "failed to save message", "error", err, "message_id", msg.ID)
			writeError(w, http.StatusInternalServerError, "Failed to save message")
			return
		}
		writeJSON(w, http.StatusCreated, stored)
	}
}

type markReadRequest struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId"`
}

type markReadResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	UpdatedCount int    `json:"updatedCount"`
}

// MarkRead marks every unread message from otherUserId to userId as read.
func MarkRead(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req markReadRequest
		body, err := readBody(w, r)
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil || req.UserID == "" || req.OtherUserID == "" {
			writeError(w, http.StatusBadRequest, "Missing required fields: userId and otherUserId")
			return
		}

		n, err := st.MarkRead(ctx, req.UserID, req.OtherUserID)
		if err != nil {
			metrics.StoreErrors.WithLabelValues("mark_read").Inc()
			slog.ErrorContext(ctx, "failed to mark messages as read", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to mark messages as read")
			return
		}

		res := markReadResponse{Success: true, Message: "No unread messages to update"}
		if n > 0 {
			res.Message = fmt.Sprintf("Marked %d messages as read", n)
			res.UpdatedCount = n
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// DeleteMessage removes the message named by the {id} route parameter.
func DeleteMessage(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, http.StatusBadRequest, "Missing message ID")
			return
		}

		err := st.Delete(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Message not found")
		case err != nil:
			metrics.StoreErrors.WithLabelValues("delete").Inc()
			slog.ErrorContext(r.Context(), "failed to delete message", "error", err, "message_id", id)
			writeError(w, http.StatusInternalServerError, "Failed to delete message")
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}
}
