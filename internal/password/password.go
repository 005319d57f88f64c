// ABOUTME: Self-describing password hashing with bcrypt (SHA-256 prehashed) and argon2id
// ABOUTME: Verify reports whether a stored hash should be upgraded to the configured algorithm

package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a supported hash scheme.
type Algorithm string

const (
	Bcrypt   Algorithm = "bcrypt"
	Argon2id Algorithm = "argon2id"
)

// BcryptSHA256Prefix marks bcrypt hashes of the password's SHA-256 digest.
// The digest keeps bcrypt's 72-byte input limit from truncating passwords.
const BcryptSHA256Prefix = "$bcrypt-sha256$"

// bcryptMaxInput is the most bcrypt reads from its input.
const bcryptMaxInput = 72

// ErrUnknownAlgorithm is returned by New for an unsupported algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown password algorithm")

// Argon2Params are the argon2id cost parameters.
type Argon2Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen uint32
}

// DefaultArgon2Params follow the RFC 9106 second recommended option.
var DefaultArgon2Params = Argon2Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// Options configures a Hasher. Zero values select defaults.
type Options struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Params
}

// Hasher hashes new passwords with one configured algorithm and verifies
// hashes produced by any supported algorithm.
type Hasher struct {
	algorithm  Algorithm
	bcryptCost int
	argon      Argon2Params
	dummy      string
}

// New creates a Hasher.
func New(opts Options) (*Hasher, error) {
	h := &Hasher{
		algorithm:  opts.Algorithm,
		bcryptCost: opts.BcryptCost,
		argon:      opts.Argon2,
	}
	if h.algorithm == "" {
		h.algorithm = Bcrypt
	}
	if h.algorithm != Bcrypt && h.algorithm != Argon2id {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, opts.Algorithm)
	}
	if h.bcryptCost == 0 {
		h.bcryptCost = bcrypt.DefaultCost
	}
	if h.bcryptCost < bcrypt.MinCost || h.bcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range", h.bcryptCost)
	}
	if h.argon == (Argon2Params{}) {
		h.argon = DefaultArgon2Params
	}

	dummy, err := h.Hash("keyport-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("generating dummy hash: %w", err)
	}
	h.dummy = dummy
	return h, nil
}

// Algorithm returns the algorithm used for new hashes.
func (h *Hasher) Algorithm() Algorithm {
	return h.algorithm
}

// Hash returns a self-describing hash of password. The empty string is
// accepted; callers reject empty user input before getting here.
func (h *Hasher) Hash(password string) (string, error) {
	switch h.algorithm {
	case Argon2id:
		return h.hashArgon2(password)
	default:
		out, err := bcrypt.GenerateFromPassword(prehash(password), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("hashing password: %w", err)
		}
		return BcryptSHA256Prefix + string(out), nil
	}
}

// Verify checks password against hash in constant time. An empty or
// unrecognized hash never verifies. needsRehash is only meaningful when ok
// is true and means the hash uses a different algorithm or weaker parameters
// than this Hasher would produce.
func (h *Hasher) Verify(hash, password string) (ok, needsRehash bool) {
	switch {
	case hash == "":
		return false, false
	case strings.HasPrefix(hash, "$argon2id$"):
		params, salt, key, err := decodeArgon2(hash)
		if err != nil {
			return false, false
		}
		got := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(key)))
		if subtle.ConstantTimeCompare(got, key) != 1 {
			return false, false
		}
		return true, h.algorithm != Argon2id || params.Time < h.argon.Time ||
			params.Memory < h.argon.Memory || params.Threads < h.argon.Threads
	case strings.HasPrefix(hash, BcryptSHA256Prefix):
		inner := []byte(strings.TrimPrefix(hash, BcryptSHA256Prefix))
		if err := bcrypt.CompareHashAndPassword(inner, prehash(password)); err != nil {
			return false, false
		}
		cost, err := bcrypt.Cost(inner)
		if err != nil {
			return true, true
		}
		return true, h.algorithm != Bcrypt || cost < h.bcryptCost
	case strings.HasPrefix(hash, "$2"):
		// Plain bcrypt ignores input past 72 bytes, so longer passwords
		// cannot be told apart and never verify.
		if len(password) > bcryptMaxInput {
			return false, false
		}
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
			return false, false
		}
		return true, true
	default:
		return false, false
	}
}

// VerifyDummy spends the same work as a real Verify. Call it when the user
// does not exist so response timing does not reveal that.
func (h *Hasher) VerifyDummy(password string) {
	_, _ = h.Verify(h.dummy, password)
}

// prehash returns the base64 SHA-256 digest of password: 44 bytes with no NULs.
func prehash(password string) []byte {
	sum := sha256.Sum256([]byte(password))
	return []byte(base64.StdEncoding.EncodeToString(sum[:]))
}

// Cost reports the bcrypt cost of a bcrypt or bcrypt-sha256 hash.
func Cost(hash string) (int, error) {
	return bcrypt.Cost([]byte(strings.TrimPrefix(hash, BcryptSHA256Prefix)))
}

func (h *Hasher) hashArgon2(password string) (string, error) {
	salt := make([]byte, h.argon.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.argon.Time, h.argon.Memory, h.argon.Threads, h.argon.KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.argon.Memory, h.argon.Time, h.argon.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// decodeArgon2 parses $argon2id$v=19$m=..,t=..,p=..$salt$key
func decodeArgon2(hash string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return p, nil, nil, errors.New("malformed argon2id hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported argon2 version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, fmt.Errorf("parsing parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("decoding salt: %w", err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, fmt.Errorf("decoding key: %w", err)
	}
	if len(key) == 0 || p.Time == 0 || p.Threads == 0 {
		return p, nil, nil, errors.New("invalid argon2id parameters")
	}

	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}
