package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/applier/internal/llm"
	"github.com/jonathan/applier/internal/retry"
	"github.com/jonathan/applier/internal/types"
)

func portalServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/gone" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(html))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckStatusFromSelector(t *testing.T) {
	srv := portalServer(t, `<html><body><div class="application-status">Under Review</div></body></html>`)
	tracker := NewPortalTracker(nil)

	status, err := tracker.CheckStatus(context.Background(), &types.JobCandidate{URL: srv.URL}, "APP-123")
	require.NoError(t, err)
	assert.Equal(t, "under review", status)
}

func TestCheckStatusClosedPosting(t *testing.T) {
	srv := portalServer(t, "")
	tracker := NewPortalTracker(nil)

	status, err := tracker.CheckStatus(context.Background(), &types.JobCandidate{URL: srv.URL + "/gone"}, "APP-123")
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, status)
}

func TestCheckStatusNoSelectorNoModel(t *testing.T) {
	srv := portalServer(t, `<html><body><main>Thanks for applying!</main></body></html>`)
	tracker := NewPortalTracker(nil)

	status, err := tracker.CheckStatus(context.Background(), &types.JobCandidate{URL: srv.URL}, "APP-123")
	require.NoError(t, err)
	assert.Empty(t, status, "undetermined status counts as unchanged")
}

type extractorClient struct{ raw string }

func (c *extractorClient) GenerateContent(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected")
}

func (c *extractorClient) GenerateJSON(_ context.Context, _ string, _ llm.ModelTier) (string, error) {
	return c.raw, nil
}

func (c *extractorClient) GenerateVision(_ context.Context, _ string, _ []byte, _ llm.ModelTier) (string, error) {
	return "", errors.New("unexpected")
}

func (c *extractorClient) GetModel(_ llm.ModelTier) string { return "extractor" }
func (c *extractorClient) Close() error                    { return nil }

func TestCheckStatusModelFallback(t *testing.T) {
	srv := portalServer(t, `<html><body><main>Your application moved to the interview stage.</main></body></html>`)

	registry := llm.NewRegistry()
	registry.Register(&extractorClient{raw: `{"status": "Interview"}`}, llm.CapabilityJSON)
	tracker := NewPortalTracker(registry)

	status, err := tracker.CheckStatus(context.Background(), &types.JobCandidate{URL: srv.URL}, "APP-123")
	require.NoError(t, err)
	assert.Equal(t, "interview", status)
}

func TestCheckStatusNetworkErrorIsTransient(t *testing.T) {
	tracker := NewPortalTracker(nil)
	_, err := tracker.CheckStatus(context.Background(), &types.JobCandidate{URL: "http://127.0.0.1:1/app"}, "APP-123")
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}

func TestWebhookNotifierDeliversEvent(t *testing.T) {
	var received statusEvent
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	runID := uuid.New()
	n := NewWebhookNotifier(srv.URL, "sekret")
	err := n.SyncStatus(context.Background(), runID, &types.JobCandidate{
		Company: "Acme", Title: "Platform Engineer", ExternalID: "42",
	}, "interview")
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekret", auth)
	assert.Equal(t, runID.String(), received.RunID)
	assert.Equal(t, "interview", received.Status)
	assert.Equal(t, "Acme", received.Company)
	assert.False(t, received.ObservedAt.IsZero())
}

func TestWebhookNotifierServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "")
	err := n.SyncStatus(context.Background(), uuid.New(), nil, "interview")
	require.Error(t, err)
	assert.Equal(t, retry.ClassTransient, retry.Classify(err))
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, LogNotifier{}.SyncStatus(context.Background(), uuid.New(), nil, "interview"))
}
