// ABOUTME: Per-user API key storage for registry services
// ABOUTME: Validates the service and key, persists via the store and masks keys on read

package connections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/keyport/internal/auth"
	"github.com/2389/keyport/internal/store"
)

// MaxAPIKeyBytes bounds a stored key.
const MaxAPIKeyBytes = 512

// View is a connection as shown to its owner. The key is masked.
type View struct {
	Service   ServiceInfo `json:"service"`
	Connected bool        `json:"connected"`
	MaskedKey string      `json:"maskedKey,omitempty"`
	UpdatedAt *time.Time  `json:"updatedAt,omitempty"`
}

// Service reads and writes connections.
type Service struct {
	store    store.ConnectionStore
	registry *Registry
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates a Service over st for the services in registry.
func NewService(st store.ConnectionStore, registry *Registry) *Service {
	return &Service{
		store:    st,
		registry: registry,
		now:      time.Now,
		logger:   slog.Default().With("component", "connections"),
	}
}

// Registry returns the services this Service accepts.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Get returns the caller's connection for serviceID. A service without a
// saved key reports Connected=false.
func (s *Service) Get(ctx context.Context, id auth.Identity, serviceID string) (*View, error) {
	svc, ok := s.registry.Lookup(serviceID)
	if !ok {
		return nil, auth.ErrUnknownService
	}

	conn, err := s.store.GetConnection(ctx, id.UserID, svc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return &View{Service: svc}, nil
	}
	if err != nil {
		return nil, auth.AsError(fmt.Errorf("loading connection: %w", err))
	}
	return view(svc, conn), nil
}

// Save stores apiKey for the caller, replacing any previous key.
func (s *Service) Save(ctx context.Context, id auth.Identity, serviceID, apiKey string) (*View, error) {
	svc, ok := s.registry.Lookup(serviceID)
	if !ok {
		return nil, auth.ErrUnknownService
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, auth.ErrValidationFailed.WithReason("apiKey is required")
	}
	if len(apiKey) > MaxAPIKeyBytes {
		return nil, auth.ErrValidationFailed.WithReason(fmt.Sprintf("apiKey exceeds %d bytes", MaxAPIKeyBytes))
	}

	now := s.now().UTC()
	conn := &store.Connection{
		ID:        uuid.New().String(),
		UserID:    id.UserID,
		Service:   svc.ID,
		APIKey:    apiKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.SaveConnection(ctx, conn); err != nil {
		s.logger.Error("saving connection", "user_id", id.UserID, "service", svc.ID, "error", err)
		return nil, auth.AsError(err)
	}
	return view(svc, conn), nil
}

// List returns one view per registry service for the caller.
func (s *Service) List(ctx context.Context, id auth.Identity) ([]*View, error) {
	conns, err := s.store.ListConnections(ctx, id.UserID)
	if err != nil {
		return nil, auth.AsError(fmt.Errorf("listing connections: %w", err))
	}
	byService := make(map[string]*store.Connection, len(conns))
	for _, c := range conns {
		byService[c.Service] = c
	}

	services := s.registry.List()
	views := make([]*View, 0, len(services))
	for _, svc := range services {
		if c, ok := byService[svc.ID]; ok {
			views = append(views, view(svc, c))
			continue
		}
		views = append(views, &View{Service: svc})
	}
	return views, nil
}

func view(svc ServiceInfo, conn *store.Connection) *View {
	updated := conn.UpdatedAt
	return &View{
		Service:   svc,
		Connected: true,
		MaskedKey: Mask(conn.APIKey),
		UpdatedAt: &updated,
	}
}

// Mask hides all but the last four characters of key.
func Mask(key string) string {
	if len(key) <= 4 {
		return strings.Repeat("*", len(key))
	}
	return strings.Repeat("*", min(len(key)-4, 8)) + key[len(key)-4:]
}
