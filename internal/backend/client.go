package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"syncdash/internal/model"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Client talks to the sync product's REST API. Snapshot reads are normalized
// before anything reaches the cache; callers never see a raw response shape.
// API calls and the event stream use separate http clients: a client timeout
// counts body reads too, which would cut a live stream mid-job.
type Client struct {
	baseURL string
	api     *http.Client
	stream  *http.Client
}

func NewClient(baseURL, token string) *Client {
	var transport http.RoundTripper = http.DefaultTransport
	if token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   http.DefaultTransport,
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		api:     &http.Client{Timeout: 30 * time.Second, Transport: transport},
		// no timeout: streams live for the job's duration and are torn
		// down through the request context
		stream: &http.Client{Transport: transport},
	}
}

// GetSourceConnection fetches one connection's persisted state and
// normalizes it into the canonical record.
func (c *Client) GetSourceConnection(ctx context.Context, id string) (model.SourceConnectionState, error) {
	var raw connectionPayload
	if err := c.getJSON(ctx, "/source-connections/"+id, &raw); err != nil {
		return model.SourceConnectionState{}, err
	}

	st, err := normalizeConnection(raw)
	if err != nil {
		return model.SourceConnectionState{}, fmt.Errorf("failed to normalize connection %s: %w", id, err)
	}

	return st, nil
}

// ListSourceConnections fetches and normalizes all connections visible to
// the current token.
func (c *Client) ListSourceConnections(ctx context.Context) ([]model.SourceConnectionState, error) {
	var raws []connectionPayload
	if err := c.getJSON(ctx, "/source-connections", &raws); err != nil {
		return nil, err
	}

	states := make([]model.SourceConnectionState, 0, len(raws))
	for _, raw := range raws {
		st, err := normalizeConnection(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize connection %s: %w", raw.ID, err)
		}
		states = append(states, st)
	}

	return states, nil
}

// TriggerRun starts a new sync job for the connection and returns its job
// id. The idempotency key keeps an impatient double-click from starting two
// runs.
func (c *Client) TriggerRun(ctx context.Context, connectionID string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"idempotency_key": uuid.NewString(),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/source-connections/"+connectionID+"/run", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.api.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to trigger run: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("run trigger rejected: %s", resp.Status)
	}

	var result struct {
		JobID string `json:"job_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode run response: %w", err)
	}

	if result.JobID == "" {
		return "", fmt.Errorf("run trigger returned no job id")
	}

	return result.JobID, nil
}

// OpenJobStream opens the server-sent event stream for a job. The caller
// owns the returned body and must close it.
func (c *Client) OpenJobStream(ctx context.Context, jobID string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/sync/job/"+jobID+"/subscribe-state", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open job stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("job stream rejected: %s", resp.Status)
	}

	return resp.Body, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.api.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return nil
}
