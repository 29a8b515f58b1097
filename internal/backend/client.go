// Package backend talks to the document/RAG service behind /api.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/johndosdos/relay/internal/model"
)

// maxResponseSize bounds how much of a backend reply is read.
const maxResponseSize = 8 << 20

var ErrUnavailable = errors.New("document backend unavailable")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d", e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Chat forwards a {message, history} body and returns the backend's
// {answer, thinking} reply untouched.
func (c *Client) Chat(ctx context.Context, body []byte) (json.RawMessage, error) {
	return c.do(ctx, http.MethodPost, "/api/chat", "application/json", bytes.NewReader(body))
}

// ProcessDocument uploads r as the multipart "file" field.
func (c *Client) ProcessDocument(ctx context.Context, filename string, r io.Reader) (json.RawMessage, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("could not build upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("could not build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("could not build upload: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/process-document", mw.FormDataContentType(), &buf)
}

// ProcessMessage indexes m as a plain text document.
func (c *Client) ProcessMessage(ctx context.Context, m model.Message) error {
	doc := FormatMessageAsDocument(m)
	_, err := c.ProcessDocument(ctx, "message-"+m.ID+".txt", strings.NewReader(doc))
	return err
}

func (c *Client) DebugGraph(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/api/debug-graph", "", nil)
}

// Health returns the status the backend reports about itself, "connected"
// when it doesn't say.
func (c *Client) Health(ctx context.Context) (string, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/health", "application/json", nil)
	if err != nil {
		return "", err
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Status == "" {
		return "connected", nil
	}
	return body.Status, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not build backend request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrUnavailable, path, err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{Code: res.StatusCode, Body: string(data)}
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s returned invalid json", ErrUnavailable, path)
	}
	return data, nil
}

// FormatMessageAsDocument renders m the way the backend indexes chat
// messages.
func FormatMessageAsDocument(m model.Message) string {
	lines := []string{
		"Sender ID: " + m.SenderID,
		"Receiver ID: " + m.ReceiverID,
		"Message: " + m.Content,
		"Sent Time: " + m.Timestamp,
	}
	if m.Attachment != nil {
		lines = append(lines, "Attachment: "+m.Attachment.Name)
	}
	return strings.Join(lines, "\n")
}
