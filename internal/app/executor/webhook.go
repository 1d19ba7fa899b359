package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/workforce-ai/compute/internal/domain"
)

// maxResponseBytes caps how much of a backend response is kept.
const maxResponseBytes = 16 << 20

// WebhookBackend forwards jobs to an HTTP endpoint.
type WebhookBackend struct {
	URL    string
	Client *http.Client
}

// NewWebhookBackend creates a backend posting to url.
func NewWebhookBackend(url string) *WebhookBackend {
	return &WebhookBackend{URL: url, Client: http.DefaultClient}
}

type webhookRequest struct {
	JobID    string         `json:"job_id"`
	Identity string         `json:"identity"`
	Feature  string         `json:"feature"`
	Tier     string         `json:"tier"`
	Input    map[string]any `json:"input,omitempty"`
}

// Execute POSTs the job as JSON and returns the response body.
// Any non-2xx status is an error.
func (w *WebhookBackend) Execute(ctx context.Context, job domain.Job) ([]byte, error) {
	body, err := json.Marshal(webhookRequest{
		JobID:    job.ID,
		Identity: job.Identity,
		Feature:  job.Feature,
		Tier:     job.Tier,
		Input:    job.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s backend: %w", job.Feature, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", job.Feature, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("%s backend returned %d: %s", job.Feature, resp.StatusCode, msg)
	}
	return out, nil
}
