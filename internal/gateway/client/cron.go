package client

import (
	"context"
	"encoding/json"

	"github.com/CRMbyRSM/PRSM/internal/gateway/protocol"
)

// CronJob is one scheduled job.
type CronJob struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	Enabled     bool            `json:"enabled"`
	AgentID     string          `json:"agentId,omitempty"`
	Schedule    json.RawMessage `json:"schedule,omitempty"`
	State       CronJobState    `json:"state"`
}

// CronJobState is the scheduler's runtime view of a job.
type CronJobState struct {
	NextRunAtMs int64  `json:"nextRunAtMs,omitempty"`
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// CronRun is one past execution of a job.
type CronRun struct {
	JobID      string `json:"jobId"`
	TS         int64  `json:"ts"`
	Status     string `json:"status"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
}

// CronStatus summarizes the scheduler.
type CronStatus struct {
	Enabled      bool  `json:"enabled"`
	Jobs         int   `json:"jobs"`
	NextWakeAtMs int64 `json:"nextWakeAtMs,omitempty"`
}

// ListCronJobs returns every job, disabled ones included.
func (c *Client) ListCronJobs(ctx context.Context) ([]CronJob, error) {
	raw, err := c.Call(ctx, protocol.MethodCronList, map[string]any{"includeDisabled": true})
	return callList[CronJob](c, raw, err, protocol.MethodCronList, "jobs")
}

// ToggleCronJob enables or disables one job.
func (c *Client) ToggleCronJob(ctx context.Context, id string, enabled bool) error {
	params := map[string]any{"id": id, "patch": map[string]any{"enabled": enabled}}
	_, err := c.Call(ctx, protocol.MethodCronUpdate, params)
	return err
}

// CronRuns returns recent runs of one job.
func (c *Client) CronRuns(ctx context.Context, id string, limit int) ([]CronRun, error) {
	params := map[string]any{"id": id}
	if limit > 0 {
		params["limit"] = limit
	}
	raw, err := c.Call(ctx, protocol.MethodCronRuns, params)
	return callList[CronRun](c, raw, err, protocol.MethodCronRuns, "entries")
}

// CronStatus fetches the scheduler summary. An unexpected shape yields the
// zero status.
func (c *Client) CronStatus(ctx context.Context) (CronStatus, error) {
	raw, err := c.Call(ctx, protocol.MethodCronStatus, nil)
	if err != nil {
		return CronStatus{}, err
	}
	st, ok := decodeObject[CronStatus](raw, "status")
	if !ok {
		c.logger.Debug("unexpected response shape", "method", protocol.MethodCronStatus)
	}
	return st, nil
}
