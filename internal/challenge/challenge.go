// ABOUTME: Issues and validates single-use WebAuthn challenges
// ABOUTME: Challenges live in one anonymous namespace keyed by their own base64 value

package challenge

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
)

const (
	// Size is the number of random bytes in a challenge.
	Size = 32
	// DefaultTTL is how long an unused challenge stays valid.
	DefaultTTL = 5 * time.Minute

	keyPrefix = "challenge:"
)

// Service issues challenges into a Cache and consumes them on validation.
type Service struct {
	cache  Cache
	ttl    time.Duration
	rand   io.Reader
	logger *slog.Logger
}

// NewService creates a Service. A zero ttl selects DefaultTTL.
func NewService(cache Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		cache:  cache,
		ttl:    ttl,
		rand:   rand.Reader,
		logger: slog.Default().With("component", "challenge"),
	}
}

// TTL returns the lifetime given to new challenges.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue generates a fresh challenge and stores it. forUserID is accepted so
// authenticated callers can pass it, but storage is never scoped by it: the
// same challenge endpoint serves anonymous registration, login and enrollment.
func (s *Service) Issue(ctx context.Context, forUserID string) ([]byte, error) {
	challenge := make([]byte, Size)
	if _, err := io.ReadFull(s.rand, challenge); err != nil {
		return nil, fmt.Errorf("generating challenge: %w", err)
	}

	if err := s.cache.Set(ctx, cacheKey(challenge), s.ttl); err != nil {
		return nil, fmt.Errorf("storing challenge: %w", err)
	}

	s.logger.Debug("issued challenge", "authenticated", forUserID != "")
	return challenge, nil
}

// Validate consumes challenge. It returns true exactly once for an issued,
// unexpired challenge and false for anything else, including cache errors.
func (s *Service) Validate(ctx context.Context, challenge []byte) bool {
	if len(challenge) == 0 {
		return false
	}

	ok, err := s.cache.Take(ctx, cacheKey(challenge))
	if err != nil {
		s.logger.Error("validating challenge", "error", err)
		return false
	}
	return ok
}

// ExtractFromClientData returns the raw challenge bytes the client claims to
// have signed, or nil if clientDataJSON is not parseable. The input is
// attacker controlled; no error is surfaced.
func ExtractFromClientData(clientDataJSON []byte) []byte {
	var cd protocol.CollectedClientData
	if err := json.Unmarshal(clientDataJSON, &cd); err != nil {
		return nil
	}
	if cd.Challenge == "" {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(urlToStd(cd.Challenge))
	if err != nil || len(raw) == 0 {
		return nil
	}
	return raw
}

// Encode renders a challenge the way clients receive it: standard base64.
func Encode(challenge []byte) string {
	return base64.StdEncoding.EncodeToString(challenge)
}

// urlToStd converts base64url (padding optional) to padded standard base64.
func urlToStd(s string) string {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	return s
}

func cacheKey(challenge []byte) string {
	return keyPrefix + base64.StdEncoding.EncodeToString(challenge)
}
