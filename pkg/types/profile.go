package types

// CredentialRef is a credential reference within a profile.
type CredentialRef struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ValueExists bool   `json:"value_exists"`
}

// ProfileInfo is profile metadata returned by most endpoints.
// The key secret is never included.
type ProfileInfo struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Locked      bool            `json:"locked"`
	KeyID       *string         `json:"key_id"`
	Credentials []CredentialRef `json:"credentials"`
	ExpiresAt   *string         `json:"expires_at"`
	Revoked     bool            `json:"revoked"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   *string         `json:"updated_at"`
}

// ProfileLocked is returned by lock and regenerate-key. Key carries the
// full ark_ID:SECRET string and is shown exactly once.
type ProfileLocked struct {
	ProfileInfo
	Key string `json:"key"`
}

// CreateProfileRequest creates a new profile (agent and admin API).
type CreateProfileRequest struct {
	Description string `json:"description"`
}

// UpdateProfileRequest updates profile description and/or expiration.
// ExpiresAt distinguishes absent (leave unchanged) from explicit null
// (clear the expiry) via the Set flag populated during decoding.
type UpdateProfileRequest struct {
	Description *string        `json:"description"`
	ExpiresAt   OptionalString `json:"expires_at"`
}

// ProfileCredentialsRequest adds or removes credential references.
type ProfileCredentialsRequest struct {
	Credentials []string `json:"credentials"`
}
