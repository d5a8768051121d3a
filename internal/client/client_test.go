package client

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/hub"
	"akasha-id/go-wallet/internal/ident"
	"akasha-id/go-wallet/internal/protocol"
	"akasha-id/go-wallet/pkg/models"
)

func newTestClient(t *testing.T) (*Client, *hub.Node) {
	t.Helper()
	node := hub.NewNode(hub.DefaultConfig())
	if err := node.Start(context.Background()); err != nil {
		t.Fatalf("start node: %v", err)
	}
	t.Cleanup(func() { _ = node.Stop(context.Background()) })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	c, err := New(node, models.AppInfo{Name: "Test App"}, Config{WalletURL: "https://wallet.example.com"}, logger)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, node
}

func TestNewValidation(t *testing.T) {
	node := hub.NewNode(hub.DefaultConfig())
	if _, err := New(nil, models.AppInfo{Name: "x"}, Config{WalletURL: "u"}, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil node, got %v", err)
	}
	if _, err := New(node, models.AppInfo{}, Config{WalletURL: "u"}, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty app name, got %v", err)
	}
	if _, err := New(node, models.AppInfo{Name: "x"}, Config{}, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty wallet URL, got %v", err)
	}
}

func TestRegistrationLinkIsParseableAndFresh(t *testing.T) {
	c, _ := newTestClient(t)

	link, err := c.RegistrationLink()
	if err != nil {
		t.Fatalf("registration link: %v", err)
	}
	if !strings.HasPrefix(link, "https://wallet.example.com"+protocol.LinkFragmentPrefix) {
		t.Fatalf("unexpected link shape %q", link)
	}
	req, err := protocol.ParseRegistrationLink(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	if len(req.Channel) != ident.DefaultIDLen {
		t.Fatalf("unexpected channel %q", req.Channel)
	}
	if req.Nonce < ident.NonceMin || req.Nonce > ident.NonceMax {
		t.Fatalf("nonce out of range: %d", req.Nonce)
	}
	if _, err := cryptoenv.ImportKeyBase64(req.Key); err != nil {
		t.Fatalf("link key should import: %v", err)
	}

	second, err := c.RegistrationLink()
	if err != nil {
		t.Fatalf("second link: %v", err)
	}
	if second == link {
		t.Fatal("each link must mint a fresh session")
	}
}

func TestRequestProfileMintsSessionWhenAbsent(t *testing.T) {
	c, _ := newTestClient(t)
	if _, ok := c.PendingLink(); ok {
		t.Fatal("expected no pending session initially")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := c.RequestProfile(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout with no wallet answering, got %v", err)
	}
	link, ok := c.PendingLink()
	if !ok || link == "" {
		t.Fatal("RequestProfile should have minted a session")
	}
	if _, err := protocol.ParseRegistrationLink(link); err != nil {
		t.Fatalf("minted link should parse: %v", err)
	}
}

func TestRequestProfileIgnoresForeignNonce(t *testing.T) {
	c, node := newTestClient(t)
	link, err := c.RegistrationLink()
	if err != nil {
		t.Fatalf("registration link: %v", err)
	}
	req, err := protocol.ParseRegistrationLink(link)
	if err != nil {
		t.Fatalf("parse link: %v", err)
	}
	key, err := cryptoenv.ImportKeyBase64(req.Key)
	if err != nil {
		t.Fatalf("import key: %v", err)
	}

	// A claim sealed with the right key but the wrong nonce must not resolve
	// the handshake.
	sealed, err := cryptoenv.Encrypt(key, protocol.ClaimPayload{
		Allowed: true,
		Nonce:   req.Nonce + 1,
	}, protocol.WireEncoding)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	env := protocol.Envelope{Request: protocol.RequestClaim, Msg: sealed}
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := node.Broadcast(context.Background(), req.Channel, raw); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := c.RequestProfile(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestRefreshProfileValidation(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	if _, err := c.RefreshProfile(ctx, nil); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for nil profile, got %v", err)
	}
	if _, err := c.RefreshProfile(ctx, &Profile{Allowed: false}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for denied profile, got %v", err)
	}
	if _, err := c.RefreshProfile(ctx, &Profile{Allowed: true, DID: "did:akasha:abc"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing token, got %v", err)
	}
	bad := &Profile{Allowed: true, DID: "not-a-did", Token: "t", RefreshEncKey: "k"}
	if _, err := c.RefreshProfile(ctx, bad); !errors.Is(err, protocol.ErrParse) {
		t.Fatalf("expected ErrParse for bad DID, got %v", err)
	}
}
