package cryptoenv

import (
	"errors"
	"testing"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key, err := GenerateKey(128)
	if err != nil {
		t.Fatalf("generate key failed: %v", err)
	}
	in := map[string]any{"nonce": float64(123456), "channel": "abc"}
	sealed, err := Encrypt(key, in, EncodingBase64)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	var out map[string]any
	if err := Decrypt(key, sealed, EncodingBase64, &out); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if out["nonce"] != in["nonce"] || out["channel"] != in["channel"] {
		t.Fatalf("roundtrip mismatch: %v != %v", out, in)
	}
}

func TestEncryptHexEncoding(t *testing.T) {
	key, err := GenerateKey(0)
	if err != nil {
		t.Fatalf("generate key failed: %v", err)
	}
	sealed, err := Encrypt(key, "payload", EncodingHex)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(sealed.IV) != 24 {
		t.Fatalf("expected 12-byte hex IV, got %d chars", len(sealed.IV))
	}
	var out string
	if err := Decrypt(key, sealed, EncodingHex, &out); err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if out != "payload" {
		t.Fatalf("unexpected plaintext: %q", out)
	}
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key, _ := GenerateKey(128)
	other, _ := GenerateKey(128)
	sealed, err := Encrypt(key, "secret", EncodingBase64)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	var out string
	if err := Decrypt(other, sealed, EncodingBase64, &out); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestDecryptTamperedFails(t *testing.T) {
	key, _ := GenerateKey(128)
	sealed, err := Encrypt(key, "secret", EncodingHex)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	tampered := []byte(sealed.Ciphertext)
	if tampered[0] == 'f' {
		tampered[0] = '0'
	} else {
		tampered[0] = 'f'
	}
	sealed.Ciphertext = string(tampered)
	var out string
	if err := Decrypt(key, sealed, EncodingHex, &out); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestDecryptTruncatedFails(t *testing.T) {
	key, _ := GenerateKey(128)
	sealed, err := Encrypt(key, "secret", EncodingBase64)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	sealed.Ciphertext = sealed.Ciphertext[:4]
	var out string
	if err := Decrypt(key, sealed, EncodingBase64, &out); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption, got %v", err)
	}
}

func TestImportExportRoundtrip(t *testing.T) {
	key, _ := GenerateKey(128)
	imported, err := ImportKeyBase64(key.ExportBase64())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	sealed, err := Encrypt(key, "hello", EncodingBase64)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	var out string
	if err := Decrypt(imported, sealed, EncodingBase64, &out); err != nil {
		t.Fatalf("decrypt with imported key failed: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected plaintext: %q", out)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	if _, err := ImportKey([]byte("short"), ModeGCM); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for short key, got %v", err)
	}
	if _, err := GenerateKey(100); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for odd size, got %v", err)
	}
	if _, err := ImportKeyBase64("!!not-base64!!"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for bad base64, got %v", err)
	}
	bad := &Key{raw: []byte("0123456789abcdef"), mode: Mode("RSA-OAEP")}
	if _, err := Encrypt(bad, "x", EncodingHex); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for wrong mode, got %v", err)
	}
}
