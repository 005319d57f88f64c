// ABOUTME: Immutable table of external services a user can store an API key for
// ABOUTME: Lookups are by lowercase service id; the table never changes after init

package connections

import (
	"slices"
	"strings"
)

// Protocol is how keyport would talk to a service.
type Protocol string

const (
	ProtocolREST    Protocol = "rest"
	ProtocolGraphQL Protocol = "graphql"
)

// ServiceInfo describes one supported external service.
type ServiceInfo struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Protocol    Protocol `json:"protocol"`
	BaseURL     string   `json:"baseUrl"`
}

// Registry is a read-only set of supported services.
type Registry struct {
	byID    map[string]ServiceInfo
	ordered []ServiceInfo
}

// DefaultServices are the services keyport ships with.
var DefaultServices = []ServiceInfo{
	{ID: "anthropic", DisplayName: "Anthropic", Protocol: ProtocolREST, BaseURL: "https://api.anthropic.com"},
	{ID: "github", DisplayName: "GitHub", Protocol: ProtocolGraphQL, BaseURL: "https://api.github.com/graphql"},
	{ID: "openai", DisplayName: "OpenAI", Protocol: ProtocolREST, BaseURL: "https://api.openai.com"},
	{ID: "stripe", DisplayName: "Stripe", Protocol: ProtocolREST, BaseURL: "https://api.stripe.com"},
}

// NewRegistry builds a registry from services, sorted by ID. Later entries
// with a duplicate ID are ignored.
func NewRegistry(services []ServiceInfo) *Registry {
	r := &Registry{byID: make(map[string]ServiceInfo, len(services))}
	for _, svc := range services {
		svc.ID = strings.ToLower(svc.ID)
		if _, dup := r.byID[svc.ID]; dup {
			continue
		}
		r.byID[svc.ID] = svc
		r.ordered = append(r.ordered, svc)
	}
	slices.SortFunc(r.ordered, func(a, b ServiceInfo) int {
		return strings.Compare(a.ID, b.ID)
	})
	return r
}

// Lookup returns the service with id, case-insensitively.
func (r *Registry) Lookup(id string) (ServiceInfo, bool) {
	svc, ok := r.byID[strings.ToLower(strings.TrimSpace(id))]
	return svc, ok
}

// List returns every service in ID order. The slice is a copy.
func (r *Registry) List() []ServiceInfo {
	return slices.Clone(r.ordered)
}
