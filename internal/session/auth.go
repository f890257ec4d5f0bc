package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/roguecord/hub/internal/connmgr"
	"github.com/roguecord/hub/internal/models"
)

const challengeSize = 32

type authRequestPayload struct {
	Username  string `json:"username"`
	PublicKey string `json:"publicKey"`
}

type authChallengePayload struct {
	Challenge string `json:"challenge"`
}

type authBannedPayload struct {
	Reason            string `json:"reason,omitempty"`
	BlacklistIdentity bool   `json:"blacklistIdentity"`
	BlacklistIP       bool   `json:"blacklistIp"`
	TargetIP          string `json:"targetIp,omitempty"`
}

type authResponsePayload struct {
	Signature string `json:"signature"`
}

type authenticatedPayload struct {
	User   models.User   `json:"user"`
	Server models.Server `json:"server"`
}

// handleAuthRequest implements steps 1-3 of the challenge-response protocol:
// ban evaluation against (publicKey, ip), user lookup-or-creation, challenge
// generation, and the transition to PhaseChallenged.
func (h *Handler) handleAuthRequest(ctx context.Context, s *connmgr.Session, cs *clientState, raw json.RawMessage) {
	var req authRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logDecodeError("auth:request", err)
		h.sendError(ctx, s, "malformed auth:request")
		return
	}
	if req.PublicKey == "" {
		h.sendError(ctx, s, "publicKey is required")
		return
	}

	ip := connmgr.NormalizeRemoteAddr(s.RemoteAddr)
	cs.remoteIP = ip

	if rule, err := h.mod.EvaluateBan(ctx, nil, req.PublicKey, ip); err != nil {
		h.logger.Error("session: evaluating ban rules at connect", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	} else if rule != nil {
		h.sendAuthBanned(ctx, s, cs, rule)
		return
	}

	username := req.Username
	if username == "" {
		username = "Anonymous"
	}

	user, isNew, err := h.store.GetOrCreateUser(ctx, username, req.PublicKey)
	if err != nil {
		h.logger.Error("session: looking up or creating user", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		h.logger.Error("session: generating auth challenge", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	cs.mu.Lock()
	cs.pendingUsername = user.Username
	cs.pendingPublicKey = req.PublicKey
	cs.challenge = challenge
	cs.isNewUser = isNew
	cs.mu.Unlock()
	cs.setPhase(PhaseChallenged)

	h.send(ctx, s, "auth:challenge", authChallengePayload{Challenge: hex.EncodeToString(challenge)})
}

func (h *Handler) sendAuthBanned(ctx context.Context, s *connmgr.Session, cs *clientState, rule *models.BanRule) {
	reason := ""
	if rule.Reason != nil {
		reason = *rule.Reason
	}
	targetIP := ""
	if rule.TargetIP != nil {
		targetIP = *rule.TargetIP
	}
	h.send(ctx, s, "auth:banned", authBannedPayload{
		Reason:            reason,
		BlacklistIdentity: rule.BlacklistIdentity,
		BlacklistIP:       rule.BlacklistIP,
		TargetIP:          targetIP,
	})
	cs.setPhase(PhaseTerminated)
	_ = s.Conn.Close(connmgr.StatusModerationEnforced, "banned")
}

// handleAuthResponse implements steps 4-5: signature verification and,
// on success, the full authenticated transition.
func (h *Handler) handleAuthResponse(ctx context.Context, s *connmgr.Session, cs *clientState, raw json.RawMessage) {
	if cs.getPhase() != PhaseChallenged {
		h.sendError(ctx, s, "no challenge outstanding")
		return
	}

	var resp authResponsePayload
	if err := json.Unmarshal(raw, &resp); err != nil {
		h.logDecodeError("auth:response", err)
		h.sendError(ctx, s, "malformed auth:response")
		return
	}

	cs.mu.Lock()
	publicKeyHex := cs.pendingPublicKey
	challenge := cs.challenge
	isNew := cs.isNewUser
	cs.mu.Unlock()

	if err := verifySignature(publicKeyHex, challenge, resp.Signature); err != nil {
		h.logger.Debug("session: auth signature verification failed", "error", err.Error())
		h.sendError(ctx, s, "signature verification failed")
		return
	}

	user, err := h.store.GetUserByPublicKey(ctx, publicKeyHex)
	if err != nil {
		h.logger.Error("session: reselecting user after auth", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	if err := h.store.UpdateLastIP(ctx, user.ID, cs.remoteIP); err != nil {
		h.logger.Error("session: updating last ip", "error", err.Error())
	}
	user.LastIP = &cs.remoteIP

	if rule, err := h.mod.EvaluateBan(ctx, &user.ID, publicKeyHex, cs.remoteIP); err != nil {
		h.logger.Error("session: evaluating ban rules at auth", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	} else if rule != nil {
		h.sendAuthBanned(ctx, s, cs, rule)
		return
	}

	drained, err := h.mod.DrainPending(ctx, user.ID)
	if err != nil {
		h.logger.Error("session: draining pending moderation actions", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}
	if len(drained) > 0 {
		for _, action := range drained {
			h.send(ctx, s, "moderation_action_enforced", action)
		}
		cs.setPhase(PhaseTerminated)
		_ = s.Conn.Close(connmgr.StatusModerationEnforced, "moderation action enforced")
		return
	}

	cs.setPhase(PhaseAuthenticated)
	h.conns.SetUser(s, user.ID)

	server, err := h.store.GetServer(ctx)
	if err != nil {
		h.logger.Error("session: loading server for authenticated reply", "error", err.Error())
		h.sendError(ctx, s, "internal error")
		return
	}

	if err := h.store.BackfillReadStates(ctx, user.ID); err != nil {
		h.logger.Error("session: backfilling read states", "error", err.Error())
	}

	h.send(ctx, s, "authenticated", authenticatedPayload{User: *user, Server: *server})

	if members, err := h.store.ListUsers(ctx); err != nil {
		h.logger.Error("session: listing members", "error", err.Error())
	} else {
		h.send(ctx, s, "member_list", members)
	}

	h.send(ctx, s, "voice_participants_list", h.voiceParticipantsSnapshot())
	h.conns.BroadcastToAuthenticated(ctx, "user_online", map[string]string{"userId": user.ID.String()})

	if isNew {
		h.postWelcomeMessage(ctx, server, user)
	}
}

// postWelcomeMessage sends a synthetic message to the server's welcome
// channel, signed by the System user, for a newly-created account.
func (h *Handler) postWelcomeMessage(ctx context.Context, server *models.Server, user *models.User) {
	if server.WelcomeChannelID == nil {
		return
	}
	content := fmt.Sprintf("Welcome, %s!", user.Username)
	msg, err := h.store.CreateMessage(ctx, *server.WelcomeChannelID, h.systemUserID, content, nil)
	if err != nil {
		h.logger.Error("session: posting welcome message", "error", err.Error())
		return
	}
	h.conns.BroadcastToAuthenticated(ctx, "new_message", msg)
}

// verifySignature checks an IEEE-P1363-encoded ECDSA P-256 signature over
// SHA-256(challenge), against an SPKI-encoded public key. Both publicKeyHex
// and signatureHex are hex strings, matching the wire format the rest of
// the protocol uses for binary fields.
func verifySignature(publicKeyHex string, challenge []byte, signatureHex string) error {
	keyBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("decoding public key hex: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(keyBytes)
	if err != nil {
		return fmt.Errorf("parsing SPKI public key: %w", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok || ecdsaPub.Curve != elliptic.P256() {
		return errors.New("public key is not ECDSA P-256")
	}

	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return fmt.Errorf("decoding signature hex: %w", err)
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("signature must be 64 bytes (IEEE P1363 r||s for P-256), got %d", len(sigBytes))
	}
	r := new(big.Int).SetBytes(sigBytes[:32])
	sVal := new(big.Int).SetBytes(sigBytes[32:])

	digest := sha256.Sum256(challenge)
	if !ecdsa.Verify(ecdsaPub, digest[:], r, sVal) {
		return errors.New("signature does not verify")
	}
	return nil
}
