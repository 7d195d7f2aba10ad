// Package botauth implements hybrid bot identity authentication: a fast
// local check against a cached PBKDF2 hash of the client secret, with
// time-boxed revalidation against the external identity provider. The
// design bounds the staleness window for upstream-revoked credentials to
// VerificationTTL and absorbs secret rotation without a rotate endpoint.
package botauth

import (
	"context"
	"errors"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/secrets"
	"github.com/rs/zerolog"
)

// ErrNotRegistered means no auth record exists for the client id.
var ErrNotRegistered = errors.New("bot not registered")

// CredentialError carries the reason a credential pair was rejected.
type CredentialError struct {
	Reason              string
	NeedsReverification bool
}

func (e *CredentialError) Error() string { return e.Reason }

// AuthResult is the outcome of an authentication attempt.
type AuthResult struct {
	Valid bool
	// NeedsReverification means the cached credential was valid locally
	// but is no longer accepted upstream; the caller should prompt
	// re-registration rather than report a generic failure.
	NeedsReverification bool
	// SecretRotated means the presented secret replaced the stored hash
	// after the provider accepted it.
	SecretRotated bool
	Reason        string
}

// RegisterRequest is the payload of a registration attempt.
type RegisterRequest struct {
	ClientID      string
	ClientSecret  string
	OwnerID       string
	Name          string
	Version       string
	InviteURL     string
	SupportServer string
	Website       string
	IsPublic      bool
	Features      []string
}

// DeregisterResult reports which record deletions, if any, failed after
// one retry. Empty FailedKeys means full success.
type DeregisterResult struct {
	FailedKeys []string
}

// Partial reports whether some records were left behind.
func (r *DeregisterResult) Partial() bool { return len(r.FailedKeys) > 0 }

// Authenticator drives the per-bot state machine:
// Unregistered -> Registered(fresh) -> Registered(stale) -> Deregistered.
type Authenticator struct {
	records  *RecordStore
	provider Provider
	log      zerolog.Logger

	now func() time.Time
}

// NewAuthenticator wires the record store and identity provider.
func NewAuthenticator(records *RecordStore, provider Provider, log zerolog.Logger) *Authenticator {
	return &Authenticator{
		records:  records,
		provider: provider,
		log:      log,
		now:      time.Now,
	}
}

// Register verifies the credential pair upstream, then writes the auth
// and meta records. Provider rejection returns a CredentialError and
// writes nothing; the metadata fetch is best effort.
func (a *Authenticator) Register(ctx context.Context, req RegisterRequest) (*Meta, error) {
	valid, reason, err := a.provider.VerifyCredentials(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		return nil, err
	}
	if !valid {
		if reason == "" {
			reason = "Invalid credentials"
		}
		return nil, &CredentialError{Reason: reason}
	}

	info, err := a.provider.FetchBotInfo(ctx, req.ClientID, req.ClientSecret)
	if err != nil {
		a.log.Warn().Err(err).Str("client_id", req.ClientID).Msg("bot info fetch failed, registering without provider metadata")
		info = nil
	}

	hash, err := secrets.HashSecret(req.ClientSecret)
	if err != nil {
		return nil, err
	}

	now := a.now()
	auth := AuthRecord{
		SecretHash:            hash,
		RegisteredAt:          now,
		LastVerifiedAt:        now,
		VerificationExpiresAt: now.Add(VerificationTTL),
		OwnerID:               req.OwnerID,
	}
	if err := a.records.PutAuth(ctx, req.ClientID, &auth); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" && info != nil {
		name = info.Name
	}
	if name == "" {
		name = "Unknown Bot"
	}

	meta := Meta{
		ClientID:      req.ClientID,
		Name:          name,
		OwnerID:       req.OwnerID,
		RegisteredAt:  now,
		LastSeen:      now,
		Version:       req.Version,
		InviteURL:     req.InviteURL,
		SupportServer: req.SupportServer,
		Website:       req.Website,
		IsPublic:      req.IsPublic,
		Features:      req.Features,
	}
	if info != nil {
		meta.Avatar = info.Icon
	}
	if err := a.records.PutMeta(ctx, req.ClientID, &meta); err != nil {
		return nil, err
	}

	a.log.Info().Str("client_id", req.ClientID).Str("name", meta.Name).Msg("bot registered")
	return &meta, nil
}

// Authenticate validates a presented credential pair.
//
// Fast path: stored hash matches and the verification window is fresh --
// no external call. A stale window triggers exactly one provider
// revalidation. A local mismatch gets one provider attempt to absorb
// secret rotation before failing. Errors are reserved for store or
// provider unavailability.
func (a *Authenticator) Authenticate(ctx context.Context, clientID, clientSecret string) (AuthResult, error) {
	rec, err := a.records.GetAuth(ctx, clientID)
	if err != nil {
		return AuthResult{}, err
	}
	if rec == nil {
		return AuthResult{Reason: "Bot not registered"}, nil
	}

	if !secrets.VerifySecret(clientSecret, rec.SecretHash) {
		// Mismatch may be a rotated secret; let the provider decide.
		valid, _, err := a.provider.VerifyCredentials(ctx, clientID, clientSecret)
		if err != nil {
			return AuthResult{}, err
		}
		if !valid {
			return AuthResult{Reason: "Invalid secret"}, nil
		}

		hash, err := secrets.HashSecret(clientSecret)
		if err != nil {
			return AuthResult{}, err
		}
		now := a.now()
		rec.SecretHash = hash
		rec.LastVerifiedAt = now
		rec.VerificationExpiresAt = now.Add(VerificationTTL)
		if err := a.records.PutAuth(ctx, clientID, rec); err != nil {
			return AuthResult{}, err
		}

		a.log.Info().Str("client_id", clientID).Msg("bot secret rotated")
		return AuthResult{Valid: true, SecretRotated: true}, nil
	}

	if a.now().After(rec.VerificationExpiresAt) {
		valid, _, err := a.provider.VerifyCredentials(ctx, clientID, clientSecret)
		if err != nil {
			return AuthResult{}, err
		}
		if !valid {
			// Cached-valid but revoked upstream: tell the caller to
			// re-register instead of reporting a generic failure.
			return AuthResult{
				NeedsReverification: true,
				Reason:              "Credentials expired or revoked",
			}, nil
		}

		now := a.now()
		rec.LastVerifiedAt = now
		rec.VerificationExpiresAt = now.Add(VerificationTTL)
		if err := a.records.PutAuth(ctx, clientID, rec); err != nil {
			return AuthResult{}, err
		}
		a.log.Info().Str("client_id", clientID).Msg("bot re-verified")
	}

	return AuthResult{Valid: true}, nil
}

// Deregister re-authenticates, then deletes every record independently.
// Failed deletions are retried once; anything still failing is reported
// by key so the caller can retry or escalate instead of orphaning data.
func (a *Authenticator) Deregister(ctx context.Context, clientID, clientSecret string) (*DeregisterResult, error) {
	res, err := a.Authenticate(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, &CredentialError{Reason: res.Reason, NeedsReverification: res.NeedsReverification}
	}

	keys := []string{
		authKey(clientID),
		metaKey(clientID),
		statsKey(clientID),
		commandsKey(clientID),
	}

	var failed []string
	for _, key := range keys {
		if err := a.records.kv.Delete(ctx, key); err != nil {
			a.log.Error().Err(err).Str("key", key).Str("client_id", clientID).Msg("record deletion failed")
			failed = append(failed, key)
		}
	}

	if len(failed) > 0 {
		a.log.Warn().Int("count", len(failed)).Str("client_id", clientID).Msg("retrying failed record deletions")
		var stillFailed []string
		for _, key := range failed {
			if err := a.records.kv.Delete(ctx, key); err != nil {
				a.log.Error().Err(err).Str("key", key).Str("client_id", clientID).Msg("record deletion retry failed")
				stillFailed = append(stillFailed, key)
			}
		}
		if len(stillFailed) > 0 {
			a.log.Error().Strs("failed_keys", stillFailed).Str("client_id", clientID).Msg("bot deregistration incomplete")
			return &DeregisterResult{FailedKeys: stillFailed}, nil
		}
	}

	a.log.Info().Str("client_id", clientID).Msg("bot deregistered")
	return &DeregisterResult{}, nil
}

// VerifyOwnership reports whether the user owns the bot. Used to gate
// mutation endpoints.
func (a *Authenticator) VerifyOwnership(ctx context.Context, clientID, userID string) (bool, error) {
	rec, err := a.records.GetAuth(ctx, clientID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return rec.OwnerID == userID, nil
}
