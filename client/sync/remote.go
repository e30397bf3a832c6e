package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clausesync/internal/comment/model"
)

// Remote is the thin HTTP client for the server-side comment API. The
// engine defines no timeout policy of its own; the caller tunes the
// http.Client if the default is wrong.
type Remote struct {
	BaseURL string
	Token   string // bearer credential
	HTTP    *http.Client
}

func NewRemote(baseURL, token string) *Remote {
	return &Remote{
		BaseURL: baseURL,
		Token:   token,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateComment replays one offline create against the server. The
// idempotency key travels as a header; the server records it but does
// not deduplicate, so delivery stays at-least-once.
func (r *Remote) CreateComment(ctx context.Context, c *model.Comment, idempotencyKey string) error {
	body, err := json.Marshal(model.CreateCommentRequest{
		DocumentID:  c.DocumentID,
		ClauseID:    c.ClauseID,
		Content:     c.Content,
		ParentID:    c.ParentID,
		Metadata:    c.Metadata,
		IsOffline:   true,
		ClientToken: idempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("marshal comment %s: %w", c.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/api/comments/create", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.Token)
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := r.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("create comment %s: %w", c.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("create comment %s: server returned %s", c.ID, resp.Status)
	}
	return nil
}
