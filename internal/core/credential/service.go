// Package credential manages named credential slots and their encrypted
// values.
package credential

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ComputClaw/airlock/internal/clock"
	"github.com/ComputClaw/airlock/internal/crypto"
	"github.com/ComputClaw/airlock/internal/store"
	"github.com/ComputClaw/airlock/pkg/types"
)

var (
	// ErrNotFound indicates an unknown credential name.
	ErrNotFound = errors.New("credential not found")
	// ErrNameTaken indicates a duplicate credential name.
	ErrNameTaken = errors.New("credential name already exists")
	// ErrInvalidName indicates a name violating the naming rules.
	ErrInvalidName = errors.New("invalid credential name")
	// ErrProfileNotFound indicates an unknown profile in resolution.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrProfileNotLocked indicates resolution against a non-locked profile.
	ErrProfileNotLocked = errors.New("profile is not locked")
)

// InUseError reports a delete blocked by locked profile references.
type InUseError struct {
	Name       string
	ProfileIDs []string
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("cannot delete credential %q: referenced by locked profile(s): %s",
		e.Name, strings.Join(e.ProfileIDs, ", "))
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const nameMaxLength = 128

// ValidateName checks a credential name against the naming rules.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidName)
	}
	if len(name) > nameMaxLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, nameMaxLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match [A-Za-z_][A-Za-z0-9_]*", ErrInvalidName, name)
	}
	return nil
}

// Service implements credential slot CRUD and profile-scoped resolution.
type Service struct {
	store     *store.Store
	masterKey []byte
	clock     clock.Clock
}

// NewService creates a credential Service.
func NewService(st *store.Store, masterKey []byte, clk clock.Clock) *Service {
	return &Service{store: st, masterKey: masterKey, clock: clk}
}

func (s *Service) now() string {
	return s.clock.Now().Format(time.RFC3339)
}

func toDetail(c *store.CredentialRow) *types.CredentialDetail {
	return &types.CredentialDetail{
		Name:        c.Name,
		Description: c.Description,
		ValueExists: c.EncryptedValue != nil,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// List returns metadata for every credential. Plaintext values are never
// returned.
func (s *Service) List() ([]*types.CredentialDetail, error) {
	rows, err := s.store.ListCredentials()
	if err != nil {
		return nil, err
	}
	out := make([]*types.CredentialDetail, 0, len(rows))
	for _, c := range rows {
		out = append(out, toDetail(c))
	}
	return out, nil
}

// Get returns metadata for one credential, or nil if unknown.
func (s *Service) Get(name string) (*types.CredentialDetail, error) {
	c, err := s.store.GetCredentialByName(name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return toDetail(c), nil
}

// Create adds a credential slot. Value is optional; agent-created slots
// have none until an operator sets one.
func (s *Service) Create(name, description string, value *string) (*types.CredentialDetail, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	existing, err := s.store.GetCredentialByName(name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %q", ErrNameTaken, name)
	}

	row := &store.CredentialRow{
		ID:          "cred_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Name:        name,
		Description: description,
		CreatedAt:   s.now(),
	}
	if value != nil {
		blob, err := crypto.Encrypt([]byte(*value), s.masterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt value: %w", err)
		}
		row.EncryptedValue = blob
	}

	if err := s.store.InsertCredential(row); err != nil {
		return nil, err
	}
	return s.Get(name)
}

// Update applies a partial update. Absent fields leave the stored state
// untouched; an explicit null value clears the secret.
func (s *Service) Update(name string, value, description types.OptionalString) (*types.CredentialDetail, error) {
	existing, err := s.store.GetCredentialByName(name)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	now := s.now()
	if value.Set {
		var blob []byte
		if value.Value != nil {
			blob, err = crypto.Encrypt([]byte(*value.Value), s.masterKey)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt value: %w", err)
			}
		}
		if err := s.store.SetCredentialValue(name, blob, now); err != nil {
			return nil, err
		}
	}
	if description.Set && description.Value != nil {
		if err := s.store.SetCredentialDescription(name, *description.Value, now); err != nil {
			return nil, err
		}
	}

	return s.Get(name)
}

// Delete removes a credential. Fails with InUseError while any locked
// profile references it; references held by unlocked profiles are dropped
// silently.
func (s *Service) Delete(name string) error {
	existing, err := s.store.GetCredentialByName(name)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	lockedIDs, err := s.store.LockedProfileIDsReferencing(existing.ID)
	if err != nil {
		return err
	}
	if len(lockedIDs) > 0 {
		return &InUseError{Name: name, ProfileIDs: lockedIDs}
	}

	return s.store.DeleteCredential(existing.ID)
}

// ResolveForProfile decrypts every valued credential bound to a locked
// profile into a name → plaintext map. Internal to the execution path;
// the map must never leave the dispatching request's scope.
func (s *Service) ResolveForProfile(profileID string) (map[string]string, error) {
	profile, err := s.store.GetProfile(profileID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, profileID)
	}
	if !profile.Locked {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotLocked, profileID)
	}

	rows, err := s.store.ListProfileCredentials(profileID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(rows))
	for _, c := range rows {
		if c.EncryptedValue == nil {
			continue
		}
		plaintext, err := crypto.Decrypt(c.EncryptedValue, s.masterKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential %q: %w", c.Name, err)
		}
		out[c.Name] = string(plaintext)
	}
	return out, nil
}
