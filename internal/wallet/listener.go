package wallet

import (
	"context"

	"akasha-id/go-wallet/internal/account"
	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/protocol"
	"akasha-id/go-wallet/pkg/models"
)

// Listen answers refresh requests on the account's DID-derived channel until
// the context ends. With an elector configured it blocks until this instance
// wins leadership, so only one device per account responds.
//
// Bad requests are dropped without a reply: an unknown token, a failed
// decryption or a drained rate budget all look the same from outside.
func (w *Wallet) Listen(ctx context.Context) error {
	session, err := w.session()
	if err != nil {
		return err
	}
	if w.elector != nil {
		if err := w.elector.AwaitLeadership(ctx); err != nil {
			return err
		}
		defer w.elector.Resign()
	}

	channel, err := protocol.ChannelFromDID(session.DID)
	if err != nil {
		return err
	}
	sub, err := w.node.Subscribe(channel)
	if err != nil {
		return err
	}
	defer sub.Close()
	w.logger.Info("refresh listener started", "channel", channel)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-sub.C():
			if !ok {
				return nil
			}
			env, err := protocol.DecodeEnvelope(raw)
			if err != nil || env.Request != protocol.RequestRefresh || env.Msg == nil || env.Token == "" {
				continue
			}
			if !w.limiter.Allow(env.Token, w.now()) {
				w.logger.Warn("refresh over budget", "token", env.Token)
				continue
			}
			w.handleRefresh(ctx, session, env)
		}
	}
}

// handleRefresh re-issues the claim for one refresh request. The reply is
// sealed with the rotating key the client proved it holds, and carries the
// next rotating key; the stored record advances only after delivery.
func (w *Wallet) handleRefresh(ctx context.Context, session *account.Session, env *protocol.Envelope) {
	w.mu.Lock()
	var rec models.ClaimRecord
	ok, err := session.Store.Get(claimKeyPrefix+env.Token, &rec)
	if err != nil || !ok {
		w.mu.Unlock()
		return
	}
	var reg models.AppRegistration
	ok, err = session.Store.Get(appKeyPrefix+env.Token, &reg)
	if err != nil || !ok {
		w.mu.Unlock()
		return
	}
	var persona models.Persona
	ok, err = session.Store.Get(personaKeyPrefix+reg.PersonaID, &persona)
	w.mu.Unlock()
	if err != nil || !ok {
		return
	}

	currentKey, err := cryptoenv.ImportKeyBase64(rec.RotatingKey)
	if err != nil {
		return
	}
	var req protocol.RefreshPayload
	if err := cryptoenv.Decrypt(currentKey, env.Msg, protocol.WireEncoding, &req); err != nil {
		w.logger.Warn("refresh request rejected", "token", env.Token)
		return
	}
	if req.Channel == "" {
		return
	}

	credential, err := issueCredential(session, persona, rec.Policy, w.now())
	if err != nil {
		w.logger.Error("refresh issuance failed", "token", env.Token, "error", err)
		return
	}
	nextKey, err := cryptoenv.GenerateKey(0)
	if err != nil {
		return
	}

	err = w.broadcastClaim(ctx, req.Channel, currentKey, env.Token, protocol.ClaimPayload{
		Allowed:       true,
		Nonce:         req.Nonce,
		DID:           session.DID,
		Token:         env.Token,
		RefreshEncKey: nextKey.ExportBase64(),
		Credential:    credential,
	})
	if err != nil {
		w.logger.Warn("refresh reply not delivered", "token", env.Token, "error", err)
		return
	}

	rec.RotatingKey = nextKey.ExportBase64()
	rec.IssuedAt = w.now()
	w.mu.Lock()
	if err := session.Store.Set(claimKeyPrefix+env.Token, rec); err != nil {
		w.logger.Error("claim record update failed", "token", env.Token, "error", err)
	}
	w.mu.Unlock()
}
