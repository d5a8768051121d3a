// Package client implements the relying-application side of the handshake:
// registration links, profile requests and claim refreshes.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/hub"
	"akasha-id/go-wallet/internal/ident"
	"akasha-id/go-wallet/internal/protocol"
	"akasha-id/go-wallet/pkg/models"
)

var ErrValidation = errors.New("invalid argument")

// Config carries the settings a relying app needs beyond its own identity.
type Config struct {
	// WalletURL is the base URL of the wallet application; registration
	// links point the user there.
	WalletURL string `yaml:"wallet_url"`
}

// Profile is the client's view of one granted registration. RefreshEncKey is
// single-use: every refresh replaces it.
type Profile struct {
	Allowed       bool
	DID           string
	Token         string
	RefreshEncKey string
	Credential    *models.Credential
}

type handshakeSession struct {
	channel      string
	nonce        int
	bootstrapKey *cryptoenv.Key
	link         string
}

// Client drives registration and refresh for one relying application.
type Client struct {
	node    *hub.Node
	appInfo models.AppInfo
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	session *handshakeSession
}

func New(node *hub.Node, appInfo models.AppInfo, cfg Config, logger *slog.Logger) (*Client, error) {
	if node == nil {
		return nil, fmt.Errorf("%w: node is required", ErrValidation)
	}
	if strings.TrimSpace(appInfo.Name) == "" {
		return nil, fmt.Errorf("%w: app name is required", ErrValidation)
	}
	if strings.TrimSpace(cfg.WalletURL) == "" {
		return nil, fmt.Errorf("%w: wallet URL is required", ErrValidation)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{node: node, appInfo: appInfo, cfg: cfg, logger: logger}, nil
}

// RegistrationLink mints a fresh handshake session and returns the link to
// show the user. Each call abandons any previous pending session.
func (c *Client) RegistrationLink() (string, error) {
	channel, err := ident.NewID()
	if err != nil {
		return "", err
	}
	key, err := cryptoenv.GenerateKey(0)
	if err != nil {
		return "", err
	}
	nonce := ident.NewNonce()
	link, err := protocol.BuildRegistrationLink(c.cfg.WalletURL, channel, key.ExportBase64(), nonce)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.session = &handshakeSession{
		channel:      channel,
		nonce:        nonce,
		bootstrapKey: key,
		link:         link,
	}
	c.mu.Unlock()
	return link, nil
}

// PendingLink returns the registration link of the in-flight session, if any.
func (c *Client) PendingLink() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return "", false
	}
	return c.session.link, true
}

// RequestProfile waits on the pending session's channel for the wallet to
// complete the handshake, answering its app-info request along the way. A
// session is minted if none is pending. It returns when a claim arrives or
// the context ends. Messages bound to a different nonce are ignored without
// a reply.
func (c *Client) RequestProfile(ctx context.Context) (*Profile, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		if _, err := c.RegistrationLink(); err != nil {
			return nil, err
		}
		c.mu.Lock()
		session = c.session
		c.mu.Unlock()
	}

	sub, err := c.node.Subscribe(session.channel)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	currentKey := session.bootstrapKey
	for {
		var raw []byte
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("registration channel closed")
			}
			raw = m
		}

		env, err := protocol.DecodeEnvelope(raw)
		if err != nil || env.Msg == nil {
			continue
		}
		switch env.Request {
		case protocol.RequestInfo:
			next, err := c.answerInfoRequest(ctx, session, currentKey, env.Msg)
			if err != nil {
				continue
			}
			currentKey = next
		case protocol.RequestClaim:
			var payload protocol.ClaimPayload
			if err := cryptoenv.Decrypt(currentKey, env.Msg, protocol.WireEncoding, &payload); err != nil {
				continue
			}
			if payload.Nonce != session.nonce {
				c.logger.Warn("claim rejected", "channel", session.channel)
				continue
			}
			c.mu.Lock()
			if c.session == session {
				c.session = nil
			}
			c.mu.Unlock()
			return &Profile{
				Allowed:       payload.Allowed,
				DID:           payload.DID,
				Token:         payload.Token,
				RefreshEncKey: payload.RefreshEncKey,
				Credential:    payload.Credential,
			}, nil
		}
	}
}

// answerInfoRequest decrypts the wallet's app-info request, replies with the
// app details and a rotated key, and returns that key for the claim step.
func (c *Client) answerInfoRequest(ctx context.Context, session *handshakeSession, key *cryptoenv.Key, sealed *cryptoenv.Sealed) (*cryptoenv.Key, error) {
	var req protocol.ReqInfoPayload
	if err := cryptoenv.Decrypt(key, sealed, protocol.WireEncoding, &req); err != nil {
		return nil, err
	}
	if req.Nonce != session.nonce {
		c.logger.Warn("app info request rejected", "channel", session.channel)
		return nil, fmt.Errorf("%w: nonce mismatch", ErrValidation)
	}
	walletKey, err := cryptoenv.ImportKeyBase64(req.EncKey)
	if err != nil {
		return nil, err
	}
	nextKey, err := cryptoenv.GenerateKey(0)
	if err != nil {
		return nil, err
	}

	reply, err := cryptoenv.Encrypt(walletKey, protocol.AppInfoPayload{
		Token:   req.Token,
		Nonce:   session.nonce,
		AppInfo: c.appInfo,
		Key:     nextKey.ExportBase64(),
	}, protocol.WireEncoding)
	if err != nil {
		return nil, err
	}
	env := protocol.Envelope{Request: protocol.RequestAppInfo, Msg: reply}
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.node.Broadcast(ctx, session.channel, raw); err != nil {
		return nil, err
	}
	return nextKey, nil
}

// RefreshProfile asks the wallet to re-issue the claim behind a profile. The
// request goes to the wallet's DID-derived channel; the reply arrives on a
// one-shot channel minted here and is sealed with the profile's current
// refresh key, which the returned profile replaces.
func (c *Client) RefreshProfile(ctx context.Context, prior *Profile) (*Profile, error) {
	if prior == nil || !prior.Allowed {
		return nil, fmt.Errorf("%w: profile was not granted", ErrValidation)
	}
	if prior.DID == "" || prior.Token == "" || prior.RefreshEncKey == "" {
		return nil, fmt.Errorf("%w: profile is missing refresh material", ErrValidation)
	}
	walletChannel, err := protocol.ChannelFromDID(prior.DID)
	if err != nil {
		return nil, err
	}
	key, err := cryptoenv.ImportKeyBase64(prior.RefreshEncKey)
	if err != nil {
		return nil, fmt.Errorf("%w: bad refresh key", ErrValidation)
	}

	replyChannel, err := ident.NewID()
	if err != nil {
		return nil, err
	}
	nonce := ident.NewNonce()

	sub, err := c.node.Subscribe(replyChannel)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	sealed, err := cryptoenv.Encrypt(key, protocol.RefreshPayload{
		Nonce:   nonce,
		Channel: replyChannel,
	}, protocol.WireEncoding)
	if err != nil {
		return nil, err
	}
	env := protocol.Envelope{Request: protocol.RequestRefresh, Msg: sealed, Token: prior.Token}
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	if err := c.node.Broadcast(ctx, walletChannel, raw); err != nil {
		return nil, err
	}

	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("refresh channel closed")
			}
			msg = m
		}

		reply, err := protocol.DecodeEnvelope(msg)
		if err != nil || reply.Request != protocol.RequestClaim || reply.Msg == nil {
			continue
		}
		var payload protocol.ClaimPayload
		if err := cryptoenv.Decrypt(key, reply.Msg, protocol.WireEncoding, &payload); err != nil {
			continue
		}
		if payload.Nonce != nonce {
			c.logger.Warn("refresh reply rejected", "channel", replyChannel)
			continue
		}
		return &Profile{
			Allowed:       payload.Allowed,
			DID:           payload.DID,
			Token:         payload.Token,
			RefreshEncKey: payload.RefreshEncKey,
			Credential:    payload.Credential,
		}, nil
	}
}
