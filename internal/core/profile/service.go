// Package profile manages profile lifecycle, key pairs, and per-request
// authentication.
package profile

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/crypto"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/pkg/types"
)

var (
	// ErrNotFound indicates an unknown profile id.
	ErrNotFound = errors.New("profile not found")
	// ErrRevoked indicates an operation on a revoked profile.
	ErrRevoked = errors.New("profile is revoked")
	// ErrLocked indicates a credential mutation on a locked profile.
	ErrLocked = errors.New("cannot modify credentials on a locked profile")
	// ErrAlreadyLocked indicates locking a locked profile.
	ErrAlreadyLocked = errors.New("profile is already locked")
	// ErrAlreadyRevoked indicates revoking a revoked profile.
	ErrAlreadyRevoked = errors.New("profile is already revoked")
	// ErrNotLocked indicates key regeneration on an unlocked profile.
	ErrNotLocked = errors.New("profile is not locked")
	// ErrLockedActive indicates deleting a locked, non-revoked profile.
	ErrLockedActive = errors.New("cannot delete a locked profile; revoke it first")
	// ErrUnknownCredential indicates attaching a nonexistent credential.
	ErrUnknownCredential = errors.New("credential not found")
)

// Authentication failures. The ingress maps each to a 401 detail without
// ever revealing which key ids exist beyond what the agent presented.
var (
	ErrAuthMissing   = errors.New("missing authentication token")
	ErrAuthMalformed = errors.New("malformed profile key")
	ErrAuthNotFound  = errors.New("unknown profile key")
	ErrAuthNotLocked = errors.New("profile is not locked")
	ErrAuthRevoked   = errors.New("profile has been revoked")
	ErrAuthExpired   = errors.New("profile has expired")
)

// Identity is the result of a successful key authentication.
type Identity struct {
	ProfileID string
	Secret    string
}

// Service implements profile lifecycle and authentication.
type Service struct {
	store     *store.Store
	masterKey []byte
	clock     clock.Clock
}

// NewService creates a profile Service.
func NewService(st *store.Store, masterKey []byte, clk clock.Clock) *Service {
	return &Service{store: st, masterKey: masterKey, clock: clk}
}

func (s *Service) now() string {
	return s.clock.Now().Format(time.RFC3339)
}

func (s *Service) toInfo(p *store.ProfileRow) (*types.ProfileInfo, error) {
	creds, err := s.store.ListProfileCredentials(p.ID)
	if err != nil {
		return nil, err
	}
	refs := make([]types.CredentialRef, 0, len(creds))
	for _, c := range creds {
		refs = append(refs, types.CredentialRef{
			Name:        c.Name,
			Description: c.Description,
			ValueExists: c.EncryptedValue != nil,
		})
	}
	return &types.ProfileInfo{
		ID:          p.ID,
		Description: p.Description,
		Locked:      p.Locked,
		KeyID:       p.KeyID,
		Credentials: refs,
		ExpiresAt:   p.ExpiresAt,
		Revoked:     p.Revoked,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func (s *Service) getRow(id string) (*store.ProfileRow, error) {
	p, err := s.store.GetProfile(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// List returns metadata for every profile.
func (s *Service) List() ([]*types.ProfileInfo, error) {
	rows, err := s.store.ListProfiles()
	if err != nil {
		return nil, err
	}
	out := make([]*types.ProfileInfo, 0, len(rows))
	for _, p := range rows {
		info, err := s.toInfo(p)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Get returns one profile's metadata.
func (s *Service) Get(id string) (*types.ProfileInfo, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	return s.toInfo(p)
}

// Create adds a new unlocked profile with a fresh UUID id.
func (s *Service) Create(description string) (*types.ProfileInfo, error) {
	row := &store.ProfileRow{
		ID:          uuid.NewString(),
		Description: description,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertProfile(row); err != nil {
		return nil, err
	}
	return s.Get(row.ID)
}

// Update changes description and/or expiry. Allowed in UNLOCKED and LOCKED
// (expiry and description are operational knobs) but not after revocation.
func (s *Service) Update(id string, req *types.UpdateProfileRequest) (*types.ProfileInfo, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrRevoked, id)
	}

	if req.ExpiresAt.Set && req.ExpiresAt.Value != nil {
		if _, err := time.Parse(time.RFC3339, *req.ExpiresAt.Value); err != nil {
			return nil, fmt.Errorf("invalid expires_at: %w", err)
		}
	}

	if err := s.store.UpdateProfileMeta(id, req.Description, req.ExpiresAt.Set, req.ExpiresAt.Value, s.now()); err != nil {
		return nil, err
	}
	return s.Get(id)
}

// AddCredentials attaches credential references to an unlocked profile.
// Idempotent per name.
func (s *Service) AddCredentials(id string, names []string) (*types.ProfileInfo, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrRevoked, id)
	}
	if p.Locked {
		return nil, ErrLocked
	}

	for _, name := range names {
		cred, err := s.store.GetCredentialByName(name)
		if err != nil {
			return nil, err
		}
		if cred == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCredential, name)
		}
		if err := s.store.AttachCredential(id, cred.ID); err != nil {
			return nil, err
		}
	}
	return s.Get(id)
}

// RemoveCredentials detaches credential references from an unlocked
// profile. Names not currently attached are skipped silently.
func (s *Service) RemoveCredentials(id string, names []string) (*types.ProfileInfo, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrRevoked, id)
	}
	if p.Locked {
		return nil, ErrLocked
	}

	for _, name := range names {
		cred, err := s.store.GetCredentialByName(name)
		if err != nil {
			return nil, err
		}
		if cred == nil {
			continue
		}
		if err := s.store.DetachCredential(id, cred.ID); err != nil {
			return nil, err
		}
	}
	return s.Get(id)
}

func (s *Service) installKey(id string) (*types.ProfileLocked, error) {
	keyID, err := generateKeyID()
	if err != nil {
		return nil, err
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	encrypted, err := crypto.Encrypt([]byte(secret), s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt key secret: %w", err)
	}

	if err := s.store.SetProfileKey(id, keyID, encrypted, s.now()); err != nil {
		return nil, err
	}

	info, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &types.ProfileLocked{
		ProfileInfo: *info,
		Key:         keyID + ":" + secret,
	}, nil
}

// Lock generates the two-part key and locks the profile. The returned key
// string is the only time the secret leaves the service.
func (s *Service) Lock(id string) (*types.ProfileLocked, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrRevoked, id)
	}
	if p.Locked {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyLocked, id)
	}
	return s.installKey(id)
}

// RegenerateKey replaces the key pair of a locked profile. The old key_id
// stops authenticating immediately.
func (s *Service) RegenerateKey(id string) (*types.ProfileLocked, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrRevoked, id)
	}
	if !p.Locked {
		return nil, fmt.Errorf("%w: %q", ErrNotLocked, id)
	}
	return s.installKey(id)
}

// Revoke permanently disables a profile. Irreversible.
func (s *Service) Revoke(id string) (*types.ProfileInfo, error) {
	p, err := s.getRow(id)
	if err != nil {
		return nil, err
	}
	if p.Revoked {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyRevoked, id)
	}
	if err := s.store.SetProfileRevoked(id, s.now()); err != nil {
		return nil, err
	}
	return s.Get(id)
}

// Delete removes a profile. Permitted only while unlocked or after
// revocation.
func (s *Service) Delete(id string) error {
	p, err := s.getRow(id)
	if err != nil {
		return err
	}
	if p.Locked && !p.Revoked {
		return fmt.Errorf("%w: %q", ErrLockedActive, id)
	}
	return s.store.DeleteProfile(id)
}

// Authenticate resolves a Bearer token to a profile identity. The token is
// the public key_id; the decrypted secret is returned for per-request HMAC
// verification. Stamps last_used_at on success.
func (s *Service) Authenticate(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrAuthMissing
	}
	if !strings.HasPrefix(token, KeyIDPrefix) {
		return nil, ErrAuthMalformed
	}

	p, err := s.store.GetProfileByKeyID(token)
	if err != nil {
		return nil, err
	}
	if p == nil {
		// Unknown, regenerated-away, and never-locked keys are
		// indistinguishable to the caller.
		return nil, ErrAuthNotFound
	}
	if p.Revoked {
		return nil, ErrAuthRevoked
	}
	if !p.Locked {
		return nil, ErrAuthNotLocked
	}
	if p.ExpiresAt != nil {
		expires, err := time.Parse(time.RFC3339, *p.ExpiresAt)
		if err != nil || !expires.After(s.clock.Now()) {
			return nil, ErrAuthExpired
		}
	}

	secret, err := crypto.Decrypt(p.KeySecretEncrypted, s.masterKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt key secret: %w", err)
	}

	if err := s.store.StampProfileUsed(p.ID, s.now()); err != nil {
		return nil, err
	}

	return &Identity{ProfileID: p.ID, Secret: string(secret)}, nil
}
