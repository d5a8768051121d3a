package protocol

import (
	"errors"
	"strings"
	"testing"

	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/ident"
)

func TestRegistrationLinkRoundtrip(t *testing.T) {
	channel, err := ident.NewID()
	if err != nil {
		t.Fatalf("NewID failed: %v", err)
	}
	key, err := cryptoenv.GenerateKey(128)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	nonce := ident.NewNonce()

	link, err := BuildRegistrationLink("https://wallet.example", channel, key.ExportBase64(), nonce)
	if err != nil {
		t.Fatalf("BuildRegistrationLink failed: %v", err)
	}
	if !strings.HasPrefix(link, "https://wallet.example"+LinkFragmentPrefix) {
		t.Fatalf("unexpected link shape: %s", link)
	}

	req, err := ParseRegistrationLink(link)
	if err != nil {
		t.Fatalf("ParseRegistrationLink failed: %v", err)
	}
	if req.Channel != channel || req.Key != key.ExportBase64() || req.Nonce != nonce {
		t.Fatalf("roundtrip mismatch: %+v", req)
	}
}

func TestParseRegistrationLinkAcceptsBareFragment(t *testing.T) {
	channel, _ := ident.NewID()
	key, _ := cryptoenv.GenerateKey(128)
	link, err := BuildRegistrationLink("", channel, key.ExportBase64(), 123456)
	if err != nil {
		t.Fatalf("BuildRegistrationLink failed: %v", err)
	}
	fragment := strings.TrimPrefix(link, LinkFragmentPrefix)
	req, err := ParseRegistrationLink(fragment)
	if err != nil {
		t.Fatalf("ParseRegistrationLink failed: %v", err)
	}
	if req.Channel != channel {
		t.Fatalf("channel mismatch: %s", req.Channel)
	}
}

func TestParseRegistrationLinkMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":  "%%%%",
		"not json":    "bm90IGpzb24=",
		"wrong arity": "WyJhYmMiXQ==",                     // ["abc"]
		"bad channel": "WyJzaG9ydCIsImtleSIsMTIzNDU2XQ==", // ["short","key",123456]
		"float nonce": "WyIwMTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTIzNDU2Nzg5Iiwia2V5IiwxLjVd",
		"empty":       "",
	}
	for name, input := range cases {
		if _, err := ParseRegistrationLink(input); !errors.Is(err, ErrParse) {
			t.Fatalf("%s: expected ErrParse, got %v", name, err)
		}
	}
}

func TestDecodeEnvelope(t *testing.T) {
	env := &Envelope{Request: RequestRefresh, Token: "tok", Msg: &cryptoenv.Sealed{Ciphertext: "aa", IV: "bb"}}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if got.Request != RequestRefresh || got.Token != "tok" || got.Msg.Ciphertext != "aa" {
		t.Fatalf("envelope mismatch: %+v", got)
	}

	if _, err := DecodeEnvelope([]byte("not json")); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for garbage, got %v", err)
	}
	if _, err := DecodeEnvelope([]byte(`{"msg":null}`)); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for missing request, got %v", err)
	}
}

func TestChannelFromDID(t *testing.T) {
	id, _ := ident.NewID()
	did := BuildDID(id)
	channel, err := ChannelFromDID(did)
	if err != nil {
		t.Fatalf("ChannelFromDID failed: %v", err)
	}
	if channel != id {
		t.Fatalf("expected %s, got %s", id, channel)
	}
	for _, bad := range []string{"", "did:akasha:", "did:other:abc", "abc"} {
		if _, err := ChannelFromDID(bad); !errors.Is(err, ErrParse) {
			t.Fatalf("expected ErrParse for %q, got %v", bad, err)
		}
	}
}
