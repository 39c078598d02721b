package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bestpath/chatops/internal/api/response"
	"github.com/bestpath/chatops/internal/route"
)

// Admin serves health and route-inspection endpoints.
type Admin struct {
	resolver   *route.Resolver
	httpClient *http.Client
}

func NewAdmin(resolver *route.Resolver) *Admin {
	return &Admin{
		resolver:   resolver,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func (h *Admin) Healthz(w http.ResponseWriter, _ *http.Request) {
	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz probes every configured tenant backend concurrently. Unreachable
// backends degrade the report but do not fail readiness: the gateway itself
// is still able to serve.
func (h *Admin) Readyz(w http.ResponseWriter, r *http.Request) {
	backends := h.resolver.Backends()

	var mu sync.Mutex
	results := make(map[string]string, len(backends))
	status := "ok"

	g, ctx := errgroup.WithContext(r.Context())
	for tenant, base := range backends {
		tenant, base := tenant, base
		g.Go(func() error {
			state := h.probe(ctx, strings.TrimRight(base, "/")+"/healthz")
			mu.Lock()
			defer mu.Unlock()
			results[tenant] = state
			if state != "ok" {
				status = "degraded"
			}
			return nil
		})
	}
	g.Wait()

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"backends": results,
	})
}

func (h *Admin) probe(ctx context.Context, url string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "unreachable: " + err.Error()
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	return "ok"
}

// Route dumps the routing tables for operators. Webhook URLs are masked:
// they embed write credentials to the chat platform.
func (h *Admin) Route(w http.ResponseWriter, _ *http.Request) {
	webhooks := make(map[string]string)
	for _, ch := range h.resolver.WebhookChannels() {
		if url, ok := h.resolver.WebhookURL(ch); ok {
			webhooks[ch] = maskURL(url)
		}
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"channels": h.resolver.ChannelTenants(),
		"backends": h.resolver.Backends(),
		"webhooks": webhooks,
	})
}

func maskURL(url string) string {
	if i := strings.LastIndex(url, "/"); i > 8 && i < len(url)-1 {
		return url[:i+1] + "****"
	}
	return "****"
}
