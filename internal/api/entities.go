package api

import (
	"context"
	"fmt"

	"chariot/internal/model"
)

// ListAssets lists assets whose key starts with the prefix.
func (c *Client) ListAssets(ctx context.Context, keyPrefix string, pages int) ([]model.Asset, string, error) {
	if keyPrefix == "" {
		keyPrefix = "#asset#"
	}
	hits, offset, err := c.SearchByKeyPrefix(ctx, keyPrefix, pages)
	if err != nil {
		return nil, "", err
	}
	var assets []model.Asset
	if err := convert(hits, &assets); err != nil {
		return nil, "", fmt.Errorf("failed to decode assets: %w", err)
	}
	return assets, offset, nil
}

// ListCredentials lists the stored credential references. Values are not
// included; the server never exposes them to this client.
func (c *Client) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	hits, _, err := c.SearchByKeyPrefix(ctx, "#credential#", 1)
	if err != nil {
		return nil, err
	}
	var creds []model.Credential
	if err := convert(hits, &creds); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}
	return creds, nil
}

// ListAegisAgents fetches the agent fleet from the dedicated Aegis endpoint.
// Keys are synthesized client-side; the endpoint predates entity keys.
func (c *Client) ListAegisAgents(ctx context.Context) ([]model.Agent, error) {
	var agents []model.Agent
	if err := c.Get(ctx, "/aegis/agent", nil, &agents); err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].Key == "" {
			agents[i].Key = fmt.Sprintf("#aegis-agent#%s#%s", agents[i].ClientID, agents[i].Hostname)
		}
	}
	return agents, nil
}

// ListCapabilities lists runnable capabilities, optionally filtered by
// surface ("internal"/"external") and agent OS.
func (c *Client) ListCapabilities(ctx context.Context, surface, agentOS string) ([]model.Capability, error) {
	params := map[string]string{}
	if surface != "" {
		params["surface"] = surface
	}
	if agentOS != "" {
		params["os"] = agentOS
	}
	var caps []model.Capability
	if err := c.Get(ctx, "/capability", params, &caps); err != nil {
		return nil, err
	}
	return caps, nil
}

// GetCapability looks up one capability by name. Returns nil when the
// backend does not know the name.
func (c *Client) GetCapability(ctx context.Context, name string) (*model.Capability, error) {
	caps, err := c.ListCapabilities(ctx, "", "")
	if err != nil {
		return nil, err
	}
	for i := range caps {
		if caps[i].Name == name {
			return &caps[i], nil
		}
	}
	return nil, nil
}

// JobRequest is the job-submission payload. Credentials are attached by
// UUID reference only; the server resolves values at execution time.
type JobRequest struct {
	Key          string            `json:"key"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
	Credentials  []string          `json:"credentials,omitempty"`
}

// AddJob queues a capability execution against a target key.
func (c *Client) AddJob(ctx context.Context, req JobRequest) (*model.Job, error) {
	var job model.Job
	if err := c.Put(ctx, "/job", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs lists jobs, optionally restricted to a key prefix under #job#.
func (c *Client) ListJobs(ctx context.Context, prefixFilter string, pages int) ([]model.Job, string, error) {
	hits, offset, err := c.SearchByKeyPrefix(ctx, "#job#"+prefixFilter, pages)
	if err != nil {
		return nil, "", err
	}
	var jobs []model.Job
	if err := convert(hits, &jobs); err != nil {
		return nil, "", fmt.Errorf("failed to decode jobs: %w", err)
	}
	return jobs, offset, nil
}
