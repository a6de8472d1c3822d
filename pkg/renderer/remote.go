package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clipforge/clipforge/pkg/retry"
	"github.com/clipforge/clipforge/pkg/store"
)

// RemoteClient hands jobs to an external render service. Completion
// arrives asynchronously through the render callback endpoint, so
// Render returns once the remote side has accepted the job.
type RemoteClient struct {
	serviceURL  string
	callbackURL string
	httpClient  *http.Client
	store       store.Store
	retryCfg    retry.Config
}

func NewRemoteClient(serviceURL, callbackURL string, st store.Store) *RemoteClient {
	return &RemoteClient{
		serviceURL:  serviceURL,
		callbackURL: callbackURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		store:    st,
		retryCfg: retry.DefaultConfig(),
	}
}

var _ Renderer = (*RemoteClient)(nil)

// Render claims the job and posts it to the remote service. Transient
// delivery failures are retried; a permanent failure marks the job
// errored so it never hangs in processing.
func (c *RemoteClient) Render(ctx context.Context, jobID string) error {
	if err := c.store.ClaimJob(jobID); err != nil {
		return fmt.Errorf("failed to claim job %s: %w", jobID, err)
	}

	job, err := c.store.GetJob(jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	req := Request{
		JobID:       job.ID,
		SourceRef:   job.SourceRef,
		Style:       job.Style,
		CallbackURL: fmt.Sprintf("%s/callbacks/render/%s", c.callbackURL, job.ID),
	}

	var permanent error
	err = retry.Do(ctx, c.retryCfg, func() error {
		err := c.post(ctx, req)
		if err != nil && !retry.IsRetryable(err) {
			// permanent failures should not burn the retry budget
			permanent = err
			return nil
		}
		return err
	})
	if permanent != nil {
		c.store.MarkError(jobID, "render service rejected the job")
		return fmt.Errorf("failed to hand off job %s: %w", jobID, permanent)
	}
	if err != nil {
		c.store.MarkError(jobID, "render service is unavailable")
		return fmt.Errorf("failed to hand off job %s: %w", jobID, err)
	}
	return nil
}

func (c *RemoteClient) post(ctx context.Context, renderReq Request) error {
	data, err := json.Marshal(renderReq)
	if err != nil {
		return fmt.Errorf("failed to marshal render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/render", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach render service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("render service rejected job with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// ApplyResult records a callback delivery against the store. Terminal
// jobs reject further writes, which makes duplicate callbacks safe.
func ApplyResult(st store.Store, result Result) error {
	if result.Error != "" {
		if err := st.MarkError(result.JobID, result.Error); err != nil {
			return fmt.Errorf("failed to record remote failure: %w", err)
		}
		return nil
	}
	if result.OutputRef == "" {
		return fmt.Errorf("callback for job %s has neither output nor error", result.JobID)
	}
	if err := st.MarkCompleted(result.JobID, result.OutputRef); err != nil {
		return fmt.Errorf("failed to record remote completion: %w", err)
	}
	return nil
}
