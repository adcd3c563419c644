package aegis

import (
	"context"
	"fmt"
	"strings"

	"chariot/internal/api"
	"chariot/internal/model"
)

// JobAPI is the slice of the platform client the orchestrator needs.
type JobAPI interface {
	ListAssets(ctx context.Context, keyPrefix string, pages int) ([]model.Asset, string, error)
	GetCapability(ctx context.Context, name string) (*model.Capability, error)
	AddJob(ctx context.Context, req api.JobRequest) (*model.Job, error)
}

// Orchestrator resolves capability targets and queues jobs against agents.
type Orchestrator struct {
	api JobAPI
}

func NewOrchestrator(client JobAPI) *Orchestrator {
	return &Orchestrator{api: client}
}

// ResolveTargetKey maps a capability's target type to a concrete entity key.
//
// Asset-targeted capabilities run against the agent's own host, so the key
// is synthesized from the hostname. Domain-targeted capabilities must hit an
// addomain asset that already exists in the account; the key is taken
// verbatim from the first match and is never fabricated, because a made-up
// key would queue a job against an entity the backend has no record of.
func (o *Orchestrator) ResolveTargetKey(ctx context.Context, capability *model.Capability, agent *model.Agent, domain string) (string, error) {
	switch capability.Target {
	case "addomain":
		if domain == "" {
			return "", fmt.Errorf("%s targets an Active Directory domain; specify one", capability.Name)
		}
		prefix := fmt.Sprintf("#addomain#%s", strings.ToLower(domain))
		assets, _, err := o.api.ListAssets(ctx, prefix, 1)
		if err != nil {
			return "", fmt.Errorf("looking up domain %s: %w", domain, err)
		}
		for _, asset := range assets {
			if strings.HasPrefix(asset.Key, prefix) {
				return asset.Key, nil
			}
		}
		return "", fmt.Errorf("no addomain asset found for %s, register the domain as an asset first", domain)

	default:
		hostname := agent.Hostname
		if hostname == "" {
			return "", fmt.Errorf("agent %s has no hostname to target", agent.ClientID)
		}
		return fmt.Sprintf("#asset#%s#%s", hostname, hostname), nil
	}
}

// BuildJobRequest assembles the job payload for running a capability on an
// agent. Credentials ride in the request's credential key list, referenced
// by UUID in the config; raw material (username, password, domain) never
// enters the config map.
func (o *Orchestrator) BuildJobRequest(capability *model.Capability, targetKey string, agent *model.Agent, credentialKey string, extra map[string]string) (api.JobRequest, error) {
	config := map[string]string{
		"aegis":     "true",
		"client_id": agent.ClientID,
		"manual":    "true",
	}
	if capability.LargeArtifact {
		config["largeArtifact"] = "true"
	}
	for k, v := range extra {
		switch k {
		case "Username", "Password", "Domain":
			continue
		}
		config[k] = v
	}

	req := api.JobRequest{
		Key:          targetKey,
		Capabilities: []string{capability.Name},
		Config:       config,
	}

	if credentialKey != "" {
		uuid, ok := model.CredentialUUID(credentialKey)
		if !ok {
			return api.JobRequest{}, fmt.Errorf("malformed credential key %s", credentialKey)
		}
		req.Credentials = []string{uuid}
		config["credential_id"] = uuid
	} else if capability.NeedsCredentials() {
		return api.JobRequest{}, fmt.Errorf("%s requires a credential", capability.Name)
	}

	return req, nil
}

// RunJob resolves the target, builds the request, and queues the job.
func (o *Orchestrator) RunJob(ctx context.Context, capabilityName string, agent *model.Agent, domain, credentialKey string, extra map[string]string) (*model.Job, error) {
	capability, err := o.api.GetCapability(ctx, capabilityName)
	if err != nil {
		return nil, err
	}
	if capability == nil {
		return nil, fmt.Errorf("unknown capability %s", capabilityName)
	}

	targetKey, err := o.ResolveTargetKey(ctx, capability, agent, domain)
	if err != nil {
		return nil, err
	}

	req, err := o.BuildJobRequest(capability, targetKey, agent, credentialKey, extra)
	if err != nil {
		return nil, err
	}

	return o.api.AddJob(ctx, req)
}
