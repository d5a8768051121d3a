package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"akasha-id/go-wallet/internal/account"
	"akasha-id/go-wallet/pkg/models"

	"github.com/mr-tron/base58/base58"
)

const (
	credentialContext = "https://www.w3.org/2018/credentials/v1"
	credentialType    = "VerifiableCredential"
	proofType         = "Ed25519Signature2018"
	proofPurpose      = "assertionMethod"
)

// issueCredential builds and signs the disclosed-attribute document for one
// persona under one policy. Attributes are read live, never from a snapshot.
func issueCredential(session *account.Session, persona models.Persona, policy models.AttributePolicy, now time.Time) (*models.Credential, error) {
	subject := map[string]any{"id": session.DID}
	disclosed := 0
	for name, allow := range policy {
		if !allow {
			continue
		}
		if value, ok := persona.Attributes[name]; ok {
			subject[name] = value
			disclosed++
		}
	}
	if disclosed == 0 {
		return nil, ErrMissingAttributes
	}

	proofValue, err := signSubject(session.SigningKey, subject)
	if err != nil {
		return nil, err
	}
	return &models.Credential{
		Context:           []string{credentialContext},
		Type:              []string{credentialType, "AkashaIdentityCredential"},
		Issuer:            session.DID,
		IssuanceDate:      now.UTC(),
		CredentialSubject: subject,
		Proof: &models.Proof{
			Type:               proofType,
			Created:            now.UTC(),
			VerificationMethod: account.KeyFingerprint(session.SigningPub),
			ProofPurpose:       proofPurpose,
			ProofValue:         proofValue,
		},
	}, nil
}

func signSubject(key ed25519.PrivateKey, subject map[string]any) (string, error) {
	buf, err := subjectSigningBytes(subject)
	if err != nil {
		return "", err
	}
	return base58.Encode(ed25519.Sign(key, buf)), nil
}

// VerifyCredential checks a credential's proof against a signing public key.
// Clients hold the key fingerprint only, so this is exported for tests and
// for tooling that resolved the full key out of band.
func VerifyCredential(pub ed25519.PublicKey, cred *models.Credential) (bool, error) {
	if cred == nil || cred.Proof == nil {
		return false, fmt.Errorf("%w: credential has no proof", ErrValidation)
	}
	sig, err := base58.Decode(cred.Proof.ProofValue)
	if err != nil {
		return false, fmt.Errorf("%w: bad proof value", ErrValidation)
	}
	buf, err := subjectSigningBytes(cred.CredentialSubject)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, buf, sig), nil
}

// subjectSigningBytes is the canonical, deterministic encoding signatures
// cover: keys sorted, values JSON-encoded, NUL-separated.
func subjectSigningBytes(subject map[string]any) ([]byte, error) {
	names := make([]string, 0, len(subject))
	for name := range subject {
		names = append(names, name)
	}
	sort.Strings(names)

	buf := make([]byte, 0, 256)
	for _, name := range names {
		value, err := json.Marshal(subject[name])
		if err != nil {
			return nil, fmt.Errorf("encode attribute %q: %w", name, err)
		}
		buf = append(buf, []byte(name)...)
		buf = append(buf, 0)
		buf = append(buf, value...)
		buf = append(buf, 0)
	}
	return buf, nil
}

// PrepareClaim rebuilds the credential that a refresh for the token would
// issue, without touching any stored state.
func (w *Wallet) PrepareClaim(token string) (*models.Credential, error) {
	session, err := w.session()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	var reg models.AppRegistration
	ok, err := session.Store.Get(appKeyPrefix+token, &reg)
	if err != nil || !ok {
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrAppNotFound
	}
	var persona models.Persona
	ok, err = session.Store.Get(personaKeyPrefix+reg.PersonaID, &persona)
	w.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPersonaNotFound
	}
	return issueCredential(session, persona, reg.Policy, w.now())
}
