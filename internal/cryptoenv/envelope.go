// Package cryptoenv implements the symmetric envelope used for every
// protocol message: AES-GCM over a JSON payload, with the ciphertext and IV
// carried as encoded text so they can travel through a JSON relay message.
package cryptoenv

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Mode names the cipher mode a key was created for.
type Mode string

const (
	ModeGCM Mode = "AES-GCM"

	gcmIVSize     = 12
	defaultIVSize = 16

	defaultKeyBits = 128
)

// Encoding selects the text encoding of ciphertext and IV on the wire.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

var (
	// ErrDecryption covers every authentication failure: wrong key, tampered
	// ciphertext, truncated data, bad text encoding. The causes are
	// deliberately indistinguishable.
	ErrDecryption = errors.New("unable to decrypt data")

	// ErrInvalidKey reports a key of the wrong kind or size.
	ErrInvalidKey = errors.New("invalid key")
)

// Key is a symmetric key together with the mode it operates in.
type Key struct {
	raw  []byte
	mode Mode
}

// GenerateKey mints a fresh random AES key. bits may be 128, 192 or 256;
// zero selects 128.
func GenerateKey(bits int) (*Key, error) {
	if bits == 0 {
		bits = defaultKeyBits
	}
	if bits != 128 && bits != 192 && bits != 256 {
		return nil, fmt.Errorf("%w: unsupported key size %d", ErrInvalidKey, bits)
	}
	raw := make([]byte, bits/8)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return &Key{raw: raw, mode: ModeGCM}, nil
}

// ImportKey wraps raw key material exported by a peer.
func ImportKey(raw []byte, mode Mode) (*Key, error) {
	if mode == "" {
		mode = ModeGCM
	}
	switch len(raw) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: unsupported key length %d", ErrInvalidKey, len(raw))
	}
	return &Key{raw: append([]byte(nil), raw...), mode: mode}, nil
}

// ImportKeyBase64 imports a base64-encoded raw key, the form keys take when
// they ride inside protocol payloads.
func ImportKeyBase64(s string) (*Key, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, "key is not valid base64")
	}
	return ImportKey(raw, ModeGCM)
}

// Export returns the raw key bytes for out-of-band transfer.
func (k *Key) Export() []byte {
	return append([]byte(nil), k.raw...)
}

// ExportBase64 returns the raw key base64-encoded.
func (k *Key) ExportBase64() string {
	return base64.StdEncoding.EncodeToString(k.raw)
}

// Mode reports the cipher mode so callers can select the IV length.
func (k *Key) Mode() Mode {
	return k.mode
}

func (k *Key) ivSize() int {
	if k.mode == ModeGCM {
		return gcmIVSize
	}
	return defaultIVSize
}

// Sealed is an encrypted payload plus its IV, both text-encoded. The IV is
// fresh per encryption and not secret.
type Sealed struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
}

// Encrypt marshals v to JSON and seals it under key.
func Encrypt(key *Key, v any, enc Encoding) (*Sealed, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	iv := make([]byte, key.ivSize())
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	return &Sealed{
		Ciphertext: encodeText(ciphertext, enc),
		IV:         encodeText(iv, enc),
	}, nil
}

// Decrypt opens sealed with key and unmarshals the payload into out. Every
// failure mode surfaces as ErrDecryption.
func Decrypt(key *Key, sealed *Sealed, enc Encoding, out any) error {
	aead, err := newAEAD(key)
	if err != nil {
		return err
	}
	if sealed == nil {
		return ErrDecryption
	}
	ciphertext, err := decodeText(sealed.Ciphertext, enc)
	if err != nil {
		return ErrDecryption
	}
	iv, err := decodeText(sealed.IV, enc)
	if err != nil || len(iv) != key.ivSize() {
		return ErrDecryption
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return ErrDecryption
	}
	if err := json.Unmarshal(plaintext, out); err != nil {
		return ErrDecryption
	}
	return nil
}

func newAEAD(key *Key) (cipher.AEAD, error) {
	if key == nil || len(key.raw) == 0 {
		return nil, ErrInvalidKey
	}
	if key.mode != ModeGCM {
		return nil, fmt.Errorf("%w: unsupported mode %q", ErrInvalidKey, key.mode)
	}
	block, err := aes.NewCipher(key.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKey, err.Error())
	}
	return cipher.NewGCM(block)
}

func encodeText(b []byte, enc Encoding) string {
	if enc == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(b)
	}
	return hex.EncodeToString(b)
}

func decodeText(s string, enc Encoding) ([]byte, error) {
	if enc == EncodingBase64 {
		return base64.StdEncoding.DecodeString(s)
	}
	return hex.DecodeString(s)
}
