package account

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
)

const hkdfInfoSigning = "akasha-id/wallet/signing/v1"

// DerivedKeys holds the signing keypair derived from a recovery seed.
type DerivedKeys struct {
	SigningKey ed25519.PrivateKey
	SigningPub ed25519.PublicKey
}

func DeriveKeys(seed []byte) (*DerivedKeys, error) {
	if len(seed) == 0 {
		return nil, errors.New("empty seed")
	}
	signingSeed, err := hkdfExpand(seed, hkdfInfoSigning, ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	priv := ed25519.NewKeyFromSeed(signingSeed)
	return &DerivedKeys{
		SigningKey: priv,
		SigningPub: priv.Public().(ed25519.PublicKey),
	}, nil
}

// AccountIDFromKey derives the 40 hex char account ID from the signing public
// key, so the same recovery phrase always yields the same DID.
func AccountIDFromKey(pub ed25519.PublicKey) string {
	h := blake2b.Sum256(pub)
	return hex.EncodeToString(h[:20])
}

// KeyFingerprint is the short printable form of a signing public key, used as
// the verification method in credential proofs.
func KeyFingerprint(pub ed25519.PublicKey) string {
	h := blake2b.Sum256(pub)
	return "akid1" + base58.Encode(h[:])
}

func hkdfExpand(seed []byte, info string, outLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, seed, nil, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
