package client

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/oidc"
)

// discoveryCache is the process-wide provider metadata cache,
// keyed by the resolved well-known URL. Entries are written at
// most once per key; racing resolvers recompute idempotently.
var discoveryCache sync.Map

// ResolveDiscovery returns the provider metadata for the issuer,
// fetching and caching it on first use. An empty issuer yields an
// empty document, so callers fall back to statically configured
// endpoint values. Fetch failures are fatal for the caller's
// configuration, there is no retry.
func ResolveDiscovery(ctx context.Context, issuer string, httpClient *http.Client, wellKnownUrl ...string) (*oidc.DiscoveryConfiguration, error) {
	if issuer == "" && (len(wellKnownUrl) == 0 || wellKnownUrl[0] == "") {
		return new(oidc.DiscoveryConfiguration), nil
	}
	key := strings.TrimSuffix(strings.TrimSuffix(issuer, "/"), oidc.DiscoveryEndpoint) + oidc.DiscoveryEndpoint
	if len(wellKnownUrl) == 1 && wellKnownUrl[0] != "" {
		key = wellKnownUrl[0]
	}
	if cached, ok := discoveryCache.Load(key); ok {
		return cached.(*oidc.DiscoveryConfiguration), nil
	}
	discoveryConfig, err := Discover(ctx, issuer, httpClient, wellKnownUrl...)
	if err != nil {
		return nil, err
	}
	cached, _ := discoveryCache.LoadOrStore(key, discoveryConfig)
	return cached.(*oidc.DiscoveryConfiguration), nil
}
