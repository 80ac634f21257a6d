// Package reporter sends run reports to a control plane over HTTP.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenHeader carries the control plane token.
const TokenHeader = "X-Crossbuild-Token"

// Client posts run data to the control plane. A nil client or an empty
// BaseURL turns every call into a no-op.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	if c == nil || c.BaseURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(c.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set(TokenHeader, c.Token)
	}
	cli := c.Client
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s status %s", path, resp.Status)
	}
	return nil
}

// PostReport sends the full report of a finished run.
func (c *Client) PostReport(ctx context.Context, report any) error {
	return c.post(ctx, "/api/runs", report)
}

// PostPackage sends the package index of a run.
func (c *Client) PostPackage(ctx context.Context, runID string, index any) error {
	return c.post(ctx, "/api/runs/"+runID+"/package", index)
}

// Heartbeat tells the control plane a server is alive and whether it is
// building.
type Heartbeat struct {
	ServerID    string `json:"server_id"`
	Busy        bool   `json:"busy"`
	LastRunID   string `json:"last_run_id,omitempty"`
	IntervalSec int    `json:"heartbeat_interval_sec"`
}

// PostHeartbeat sends one heartbeat.
func (c *Client) PostHeartbeat(ctx context.Context, hb Heartbeat) error {
	return c.post(ctx, "/api/heartbeat", hb)
}
