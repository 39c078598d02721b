package route

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownChannel means the channel has no tenant mapping. Callers
	// should treat this as an authorization failure (403), not a transient
	// fault.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrNoBackend means the resolved tenant has no backend URL configured.
	// This is a server-side configuration gap (502-equivalent).
	ErrNoBackend = errors.New("no backend configured")
)

// Route is the result of resolving a channel to its tenant backend.
type Route struct {
	TenantID   string
	BackendURL string
}

// Resolver maps chat channels to tenants and tenants to backend base URLs.
// Both maps are loaded once at startup and never mutated, so Resolve is safe
// for concurrent use without synchronization.
type Resolver struct {
	channelToTenant map[string]string
	tenantToBackend map[string]string
	channelToHook   map[string]string
}

// NewResolver creates a Resolver over the given route tables. The maps are
// copied so later mutation of the arguments cannot affect resolution.
func NewResolver(channelToTenant, tenantToBackend, channelToHook map[string]string) *Resolver {
	return &Resolver{
		channelToTenant: copyMap(channelToTenant),
		tenantToBackend: copyMap(tenantToBackend),
		channelToHook:   copyMap(channelToHook),
	}
}

// Resolve returns the tenant ID and backend base URL for a channel. The
// backend URL has any trailing slash stripped.
func (r *Resolver) Resolve(channelID string) (Route, error) {
	tenantID, ok := r.channelToTenant[channelID]
	if !ok {
		return Route{}, fmt.Errorf("%w: channel_id %q has no route", ErrUnknownChannel, channelID)
	}
	backend, ok := r.tenantToBackend[tenantID]
	if !ok || backend == "" {
		return Route{}, fmt.Errorf("%w: tenant %q", ErrNoBackend, tenantID)
	}
	return Route{
		TenantID:   tenantID,
		BackendURL: strings.TrimRight(backend, "/"),
	}, nil
}

// WebhookURL returns the follow-up webhook URL mapped to a channel, if any.
// A missing entry is not an error: it means the channel has no follow-up
// delivery capability.
func (r *Resolver) WebhookURL(channelID string) (string, bool) {
	url, ok := r.channelToHook[channelID]
	return url, ok && url != ""
}

// Channels returns the configured channel IDs in no particular order.
func (r *Resolver) Channels() []string {
	out := make([]string, 0, len(r.channelToTenant))
	for ch := range r.channelToTenant {
		out = append(out, ch)
	}
	return out
}

// Backends returns the tenant to backend URL table (copy).
func (r *Resolver) Backends() map[string]string {
	return copyMap(r.tenantToBackend)
}

// ChannelTenants returns the channel to tenant table (copy).
func (r *Resolver) ChannelTenants() map[string]string {
	return copyMap(r.channelToTenant)
}

// WebhookChannels returns the channel IDs that have a follow-up webhook.
func (r *Resolver) WebhookChannels() []string {
	out := make([]string, 0, len(r.channelToHook))
	for ch := range r.channelToHook {
		out = append(out, ch)
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
