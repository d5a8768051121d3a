package wallet

import (
	"context"
	"fmt"

	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/ident"
	"akasha-id/go-wallet/internal/protocol"
	"akasha-id/go-wallet/pkg/models"
)

// Registration is the in-flight state of one registration handshake, held
// between RegisterApp and the user's SendClaim decision. Nothing is persisted
// until the claim is delivered.
type Registration struct {
	Token   string
	Channel string
	Nonce   int
	AppInfo models.AppInfo

	// claimKey is the client's rotated key from its appInfo reply; the
	// claim that follows is sealed with it.
	claimKey *cryptoenv.Key
}

// RegisterApp runs the wallet half of the registration handshake: it joins
// the link's channel, asks the client for its app details and returns them
// for the user to approve or deny.
func (w *Wallet) RegisterApp(ctx context.Context, link string) (*Registration, error) {
	if _, err := w.session(); err != nil {
		return nil, err
	}
	req, err := protocol.ParseRegistrationLink(link)
	if err != nil {
		return nil, err
	}
	bootstrapKey, err := cryptoenv.ImportKeyBase64(req.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: bad link key", protocol.ErrParse)
	}

	token, err := ident.NewID()
	if err != nil {
		return nil, err
	}
	appKey, err := cryptoenv.GenerateKey(0)
	if err != nil {
		return nil, err
	}

	sub, err := w.node.Subscribe(req.Channel)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	sealed, err := cryptoenv.Encrypt(bootstrapKey, protocol.ReqInfoPayload{
		Token:  token,
		EncKey: appKey.ExportBase64(),
		Nonce:  req.Nonce,
	}, protocol.WireEncoding)
	if err != nil {
		return nil, err
	}
	env := protocol.Envelope{Request: protocol.RequestInfo, Msg: sealed}
	raw, err := env.Encode()
	if err != nil {
		return nil, err
	}
	if err := w.node.Broadcast(ctx, req.Channel, raw); err != nil {
		return nil, err
	}
	w.logger.Debug("app info requested", "channel", req.Channel)

	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case m, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("registration channel closed")
			}
			msg = m
		}

		reply, err := protocol.DecodeEnvelope(msg)
		if err != nil || reply.Request != protocol.RequestAppInfo || reply.Msg == nil {
			continue
		}
		var payload protocol.AppInfoPayload
		if err := cryptoenv.Decrypt(appKey, reply.Msg, protocol.WireEncoding, &payload); err != nil {
			continue
		}
		if payload.Nonce != req.Nonce || payload.Token != token {
			w.logger.Warn("app info reply rejected", "channel", req.Channel)
			continue
		}
		claimKey, err := cryptoenv.ImportKeyBase64(payload.Key)
		if err != nil {
			continue
		}
		return &Registration{
			Token:    token,
			Channel:  req.Channel,
			Nonce:    req.Nonce,
			AppInfo:  payload.AppInfo,
			claimKey: claimKey,
		}, nil
	}
}

// SendClaim finishes the handshake with the user's decision. On allow it
// issues a credential from the chosen persona under the policy and, only
// after the claim is on the wire, records the app and its refresh key. On
// deny it answers the client and records nothing.
func (w *Wallet) SendClaim(ctx context.Context, reg *Registration, personaID string, policy models.AttributePolicy, allowed bool) error {
	session, err := w.session()
	if err != nil {
		return err
	}
	if reg == nil || reg.claimKey == nil {
		return fmt.Errorf("%w: registration is not pending", ErrValidation)
	}

	if !allowed {
		return w.broadcastClaim(ctx, reg.Channel, reg.claimKey, "", protocol.ClaimPayload{
			Allowed: false,
			Nonce:   reg.Nonce,
		})
	}

	persona, err := w.GetPersona(personaID)
	if err != nil {
		return err
	}
	if len(policy) == 0 {
		return ErrMissingAttributes
	}
	credential, err := issueCredential(session, persona, policy, w.now())
	if err != nil {
		return err
	}
	refreshKey, err := cryptoenv.GenerateKey(0)
	if err != nil {
		return err
	}

	err = w.broadcastClaim(ctx, reg.Channel, reg.claimKey, "", protocol.ClaimPayload{
		Allowed:       true,
		Nonce:         reg.Nonce,
		DID:           session.DID,
		Token:         reg.Token,
		RefreshEncKey: refreshKey.ExportBase64(),
		Credential:    credential,
	})
	if err != nil {
		return err
	}

	now := w.now()
	return w.persistIssuance(session,
		models.AppRegistration{
			Token:     reg.Token,
			PersonaID: persona.ID,
			AppInfo:   reg.AppInfo,
			Policy:    policy,
			AddedAt:   now,
		},
		models.ClaimRecord{
			Token:       reg.Token,
			RotatingKey: refreshKey.ExportBase64(),
			Policy:      policy,
			IssuedAt:    now,
		})
}

func (w *Wallet) broadcastClaim(ctx context.Context, channel string, key *cryptoenv.Key, token string, payload protocol.ClaimPayload) error {
	sealed, err := cryptoenv.Encrypt(key, payload, protocol.WireEncoding)
	if err != nil {
		return err
	}
	env := protocol.Envelope{Request: protocol.RequestClaim, Msg: sealed, Token: token}
	raw, err := env.Encode()
	if err != nil {
		return err
	}
	if err := w.node.Broadcast(ctx, channel, raw); err != nil {
		return fmt.Errorf("deliver claim: %w", err)
	}
	return nil
}
