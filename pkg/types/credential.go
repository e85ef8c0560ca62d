package types

import "encoding/json"

// OptionalString is a three-valued JSON field: absent, explicit null, or a
// value. Absent fields leave the stored value unchanged; explicit null
// clears it.
type OptionalString struct {
	Set   bool    // field was present in the request body
	Value *string // nil means explicit null
}

// UnmarshalJSON records presence; encoding/json only calls it for fields
// that appear in the document.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	return json.Unmarshal(data, &o.Value)
}

// MarshalJSON round-trips the wrapped value.
func (o OptionalString) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// CredentialInfo is credential metadata for the agent API. Values are
// never included.
type CredentialInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ValueExists bool   `json:"value_exists"`
}

// CredentialDetail adds timestamps for the admin API.
type CredentialDetail struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	ValueExists bool    `json:"value_exists"`
	CreatedAt   string  `json:"created_at"`
	UpdatedAt   *string `json:"updated_at"`
}

// CreateCredentialItem is a single credential slot in an agent batch.
type CreateCredentialItem struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateCredentialsRequest creates credential slots without values.
type CreateCredentialsRequest struct {
	Credentials []CreateCredentialItem `json:"credentials"`
}

// CreateCredentialsResponse reports which slots were created.
type CreateCredentialsResponse struct {
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// AdminCreateCredentialRequest creates a credential, optionally with a value.
type AdminCreateCredentialRequest struct {
	Name        string  `json:"name"`
	Value       *string `json:"value"`
	Description string  `json:"description"`
}

// AdminUpdateCredentialRequest partially updates a credential. Absent
// fields are left unchanged; an explicit null value clears the secret.
type AdminUpdateCredentialRequest struct {
	Value       OptionalString `json:"value"`
	Description OptionalString `json:"description"`
}
