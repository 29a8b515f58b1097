package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/johndosdos/relay/internal/backend"
)

// maxUploadSize bounds documents accepted by /process-document.
const maxUploadSize = 32 << 20

// DocumentBackend is the document/RAG service the proxies forward to.
type DocumentBackend interface {
	Chat(ctx context.Context, body []byte) (json.RawMessage, error)
	ProcessDocument(ctx context.Context, filename string, r io.Reader) (json.RawMessage, error)
	DebugGraph(ctx context.Context) (json.RawMessage, error)
	Health(ctx context.Context) (string, error)
}

// ProxyChat forwards {message, history} to the backend and falls back to a
// placeholder answer when it can't be reached.
func ProxyChat(b DocumentBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req struct {
			Message string `json:"message"`
		}
		body, err := readBody(w, r)
		if err == nil {
			err = json.Unmarshal(body, &req)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to process chat request")
			return
		}

		data, err := b.Chat(ctx, body)
		if err == nil {
			writeJSON(w, http.StatusOK, data)
			return
		}
		slog.WarnContext(ctx, "chat backend failed, using mock response", "error", err)

		writeJSON(w, http.StatusOK, map[string]any{
			"answer": fmt.Sprintf("This is a placeholder response to: %q. The document backend is not available.", req.Message),
			"thinking": []string{
				"Step 1: Received user query",
				"Step 2: Attempted to call the document backend but it was unavailable",
				"Step 3: Generated a fallback response",
			},
			"mockData": true,
		})
	}
}

// ProxyProcessDocument forwards the multipart "file" field to the backend.
func ProxyProcessDocument(b DocumentBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		file, hdr, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "No file provided or invalid file")
			return
		}
		defer file.Close()

		data, err := b.ProcessDocument(ctx, hdr.Filename, file)
		if err == nil {
			writeJSON(w, http.StatusOK, data)
			return
		}
		slog.WarnContext(ctx, "document backend failed, using mock response",
			"error", err,
			"file", hdr.Filename)

		writeJSON(w, http.StatusOK, map[string]any{
			"success":    true,
			"message":    "Document processed successfully (mock response)",
			"documentId": fmt.Sprintf("doc-%d", time.Now().UnixMilli()),
			"entities":   []string{"entity1", "entity2", "entity3"},
			"fileName":   hdr.Filename,
			"fileSize":   hdr.Size,
			"fileType":   hdr.Header.Get("Content-Type"),
			"mockData":   true,
		})
	}
}

// ProxyDebugGraph returns the backend's graph statistics, or sample data
// when the backend is down.
func ProxyDebugGraph(b DocumentBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := b.DebugGraph(r.Context())
		if err == nil {
			writeJSON(w, http.StatusOK, data)
			return
		}
		slog.WarnContext(r.Context(), "graph backend failed, using mock response", "error", err)
		writeJSON(w, http.StatusOK, mockGraph)
	}
}

// ProxyHealth reports this process and the backend.
func ProxyHealth(b DocumentBackend) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := b.Health(r.Context())

		var se *backend.StatusError
		switch {
		case errors.As(err, &se):
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":        "error",
				"message":       "Backend health check failed",
				"backendStatus": se.Body,
			})
		case err != nil:
			slog.WarnContext(r.Context(), "could not reach backend", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"status":  "error",
				"message": "Could not connect to backend service",
			})
		default:
			writeJSON(w, http.StatusOK, map[string]string{
				"status":   "ok",
				"frontend": "healthy",
				"backend":  status,
			})
		}
	}
}

type graphEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

var mockGraph = struct {
	NodeCountsByType         map[string]int      `json:"nodeCountsByType"`
	RelationshipCountsByType map[string]int      `json:"relationshipCountsByType"`
	SampleDocuments          []map[string]string `json:"sampleDocuments"`
	IsolatedNodes            []graphEntity       `json:"isolatedNodes"`
	EntityConnections        []map[string]any    `json:"entityConnections"`
	MockData                 bool                `json:"mockData"`
}{
	NodeCountsByType: map[string]int{
		"Document":     5,
		"Person":       12,
		"Organization": 8,
		"Location":     15,
		"Concept":      23,
		"Event":        7,
	},
	RelationshipCountsByType: map[string]int{
		"MENTIONS":        45,
		"WORKS_AT":        10,
		"LOCATED_IN":      12,
		"RELATED_TO":      18,
		"PARTICIPATED_IN": 9,
	},
	SampleDocuments: []map[string]string{
		{"id": "doc1", "title": "Annual Report 2023", "type": "Document", "content": "This is a sample document about company performance..."},
		{"id": "doc2", "title": "Project Proposal", "type": "Document", "content": "A proposal for the new initiative..."},
		{"id": "doc3", "title": "Meeting Minutes", "type": "Document", "content": "Minutes from the quarterly board meeting..."},
	},
	IsolatedNodes: []graphEntity{
		{ID: "entity1", Name: "Concept XYZ", Type: "Concept"},
		{ID: "entity2", Name: "John Smith", Type: "Person"},
	},
	EntityConnections: []map[string]any{
		{
			"source":       graphEntity{ID: "person1", Name: "Jane Doe", Type: "Person"},
			"relationship": "WORKS_AT",
			"target":       graphEntity{ID: "org1", Name: "Acme Corp", Type: "Organization"},
		},
		{
			"source":       graphEntity{ID: "org1", Name: "Acme Corp", Type: "Organization"},
			"relationship": "LOCATED_IN",
			"target":       graphEntity{ID: "loc1", Name: "New York", Type: "Location"},
		},
		{
			"source":       graphEntity{ID: "doc1", Name: "Annual Report 2023", Type: "Document"},
			"relationship": "MENTIONS",
			"target":       graphEntity{ID: "person1", Name: "Jane Doe", Type: "Person"},
		},
	},
	MockData: true,
}
