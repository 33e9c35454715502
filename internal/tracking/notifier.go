package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

// statusEvent is the webhook payload for one status change.
type statusEvent struct {
	RunID      string    `json:"run_id"`
	Company    string    `json:"company,omitempty"`
	Title      string    `json:"title,omitempty"`
	URL        string    `json:"url,omitempty"`
	ExternalID string    `json:"external_id,omitempty"`
	Status     string    `json:"status"`
	ObservedAt time.Time `json:"observed_at"`
}

// WebhookNotifier pushes status changes to an HTTP endpoint.
type WebhookNotifier struct {
	endpoint string
	token    string
	client   *http.Client
	now      func() time.Time
}

// NewWebhookNotifier builds a notifier. token, when set, is sent as a bearer
// credential.
func NewWebhookNotifier(endpoint, token string) *WebhookNotifier {
	return &WebhookNotifier{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
		now:      time.Now,
	}
}

// SyncStatus delivers one status change. Delivery failures are transient:
// the run stays in syncing and retries later.
func (n *WebhookNotifier) SyncStatus(ctx context.Context, runID uuid.UUID, candidate *types.JobCandidate, status string) error {
	event := statusEvent{
		RunID:      runID.String(),
		Status:     status,
		ObservedAt: n.now(),
	}
	if candidate != nil {
		event.Company = candidate.Company
		event.Title = candidate.Title
		event.URL = candidate.URL
		event.ExternalID = candidate.ExternalID
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode status event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return retry.Transient(fmt.Errorf("failed to deliver status event: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return retry.Transient(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
	return nil
}

// LogNotifier is the no-webhook fallback: it records status changes in the
// process log only.
type LogNotifier struct{}

// SyncStatus logs the change and succeeds.
func (LogNotifier) SyncStatus(_ context.Context, runID uuid.UUID, candidate *types.JobCandidate, status string) error {
	if candidate != nil {
		fmt.Printf("run %s: %s at %s is now %q\n", runID, candidate.Title, candidate.Company, status)
		return nil
	}
	fmt.Printf("run %s is now %q\n", runID, status)
	return nil
}
