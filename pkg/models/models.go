package models

import (
	"fmt"
	"time"
)

// Account is the public, pre-login view of a wallet account. It lives in the
// unencrypted global index so a device can show "who can log in" without a
// passphrase.
type Account struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
}

// Persona is a named attribute bag owned by one account. A user may keep
// several personas (social, work, ...) with distinct attribute sets.
type Persona struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// AppInfo describes a relying application requesting access to a persona.
type AppInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
	URL         string `json:"url,omitempty"`
}

// AttributePolicy maps attribute names to a disclose/withhold decision. This
// is the canonical policy shape; legacy list forms must be normalized first.
type AttributePolicy map[string]bool

// AppRegistration records one successful registration handshake.
type AppRegistration struct {
	Token     string          `json:"token"`
	PersonaID string          `json:"persona_id"`
	AppInfo   AppInfo         `json:"app_info"`
	Policy    AttributePolicy `json:"policy"`
	AddedAt   time.Time       `json:"added_at"`
}

// ClaimRecord keeps the rotating refresh key and policy snapshot for one app
// token. RotatingKey is always the key the client must use to authenticate
// its next refresh request; it changes on every issuance.
type ClaimRecord struct {
	Token       string          `json:"token"`
	RotatingKey string          `json:"rotating_key"`
	Policy      AttributePolicy `json:"policy"`
	IssuedAt    time.Time       `json:"issued_at"`
}

// Credential is the disclosed-attribute document issued to an app. It is
// rebuilt from live persona attributes on every issuance and never stored.
type Credential struct {
	Context           []string       `json:"@context"`
	Type              []string       `json:"type"`
	Issuer            string         `json:"issuer"`
	IssuanceDate      time.Time      `json:"issuanceDate"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Proof             *Proof         `json:"proof"`
}

// Proof is an ed25519 signature over the credential subject.
type Proof struct {
	Type               string    `json:"type"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verificationMethod"`
	ProofPurpose       string    `json:"proofPurpose"`
	ProofValue         string    `json:"proofValue"`
}

// NormalizeAttributePolicy converts the policy shapes that appeared across
// protocol revisions (boolean map, attribute-name list) into the canonical
// map form.
func NormalizeAttributePolicy(v any) (AttributePolicy, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case AttributePolicy:
		return p, nil
	case map[string]bool:
		return AttributePolicy(p), nil
	case map[string]any:
		out := make(AttributePolicy, len(p))
		for name, raw := range p {
			b, ok := raw.(bool)
			if !ok {
				return nil, fmt.Errorf("attribute policy entry %q is not a boolean", name)
			}
			out[name] = b
		}
		return out, nil
	case []string:
		out := make(AttributePolicy, len(p))
		for _, name := range p {
			out[name] = true
		}
		return out, nil
	case []any:
		out := make(AttributePolicy, len(p))
		for _, raw := range p {
			name, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("attribute policy list entry %v is not a string", raw)
			}
			out[name] = true
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported attribute policy shape %T", v)
	}
}
