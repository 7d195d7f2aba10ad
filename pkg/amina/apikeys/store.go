package apikeys

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/models"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/aminahq/amina-api/pkg/amina/secrets"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	// ErrUnavailable means key storage could not be reached. Callers map
	// it to 503, never to "invalid key", so clients don't rotate valid
	// credentials during an outage.
	ErrUnavailable = errors.New("key storage unavailable")

	// ErrKeyLimit means the owner already holds the maximum number of
	// active keys.
	ErrKeyLimit = errors.New("active key limit reached")
)

// Store persists API key records inside the user aggregate.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger

	now func() time.Time
}

// NewStore creates an API key store over the given database.
func NewStore(db *gorm.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log, now: time.Now}
}

// IssueOptions are the caller-controlled attributes of a new key.
type IssueOptions struct {
	Name        string
	Permissions []string
	Policy      *ratelimit.Policy
	ExpiresAt   *time.Time
}

// Issue creates a new API key for a user and returns the plaintext key
// exactly once. The active-key ceiling is checked read-then-write, so it
// is a soft limit under concurrent issuance.
func (s *Store) Issue(userID string, opts IssueOptions) (string, *models.APIKey, error) {
	active, err := s.CountActive(userID)
	if err != nil {
		return "", nil, err
	}
	if active >= models.MaxActiveKeysPerUser {
		return "", nil, ErrKeyLimit
	}

	key, prefix, hash, err := secrets.GenerateAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generating key: %w", err)
	}
	keyID, err := secrets.GenerateKeyID()
	if err != nil {
		return "", nil, fmt.Errorf("generating key id: %w", err)
	}

	permissions := opts.Permissions
	if len(permissions) == 0 {
		permissions = []string{"all"}
	}
	policy := ratelimit.DefaultPolicy
	if opts.Policy != nil {
		policy = *opts.Policy
	}

	record := models.APIKey{
		UserID:            userID,
		KeyID:             keyID,
		Name:              opts.Name,
		KeyHash:           hash,
		KeyPrefix:         prefix,
		Permissions:       permissions,
		RateLimitRequests: policy.Requests,
		RateLimitWindow:   policy.Window,
		ExpiresAt:         opts.ExpiresAt,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.FirstOrCreate(&models.User{}, models.User{ID: userID}).Error; err != nil {
			return err
		}
		return tx.Create(&record).Error
	})
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("failed to persist api key")
		return "", nil, ErrUnavailable
	}

	return key, &record, nil
}

// Verify resolves a presented key to its owner and record. A nil, nil
// result means no match; the caller learns nothing about whether the key
// was malformed, unknown or revoked. Storage failure is ErrUnavailable.
func (s *Store) Verify(presented string) (*models.User, *models.APIKey, error) {
	if !strings.HasPrefix(presented, secrets.APIKeyPrefix) {
		return nil, nil, nil
	}

	hash := secrets.HashAPIKey(presented)

	var key models.APIKey
	err := s.db.Where("key_hash = ? AND revoked = ?", hash, false).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("api key lookup failed")
		return nil, nil, ErrUnavailable
	}

	var user models.User
	err = s.db.First(&user, "id = ?", key.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("api key owner lookup failed")
		return nil, nil, ErrUnavailable
	}

	return &user, &key, nil
}

// CheckNotExpired reports whether the key is still within its lifetime.
func (s *Store) CheckNotExpired(key *models.APIKey) bool {
	return !key.Expired(s.now())
}

// Policy returns the rate-limit policy attached to a key.
func (s *Store) Policy(key *models.APIKey) ratelimit.Policy {
	if key.RateLimitRequests <= 0 || key.RateLimitWindow <= 0 {
		return ratelimit.DefaultPolicy
	}
	return ratelimit.Policy{Requests: key.RateLimitRequests, Window: key.RateLimitWindow}
}

// RecordUsage bumps the usage counter and last-used timestamp. Safe to
// run after the response has been sent; failures are logged and dropped.
func (s *Store) RecordUsage(userID, keyID string) {
	now := s.now()
	err := s.db.Model(&models.APIKey{}).
		Where("user_id = ? AND key_id = ?", userID, keyID).
		Updates(map[string]interface{}{
			"usage_total":  gorm.Expr("usage_total + 1"),
			"last_used_at": now,
		}).Error
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Str("key_id", keyID).Msg("failed to record api key usage")
	}
}

// Revoke marks a key revoked. Idempotent: the returned bool reports
// whether an active record was found, and a second call reports false.
func (s *Store) Revoke(userID, keyID string) (bool, error) {
	res := s.db.Model(&models.APIKey{}).
		Where("user_id = ? AND key_id = ? AND revoked = ?", userID, keyID, false).
		Update("revoked", true)
	if res.Error != nil {
		s.log.Error().Err(res.Error).Str("key_id", keyID).Msg("api key revoke failed")
		return false, ErrUnavailable
	}
	return res.RowsAffected > 0, nil
}

// Delete permanently removes a key record, usage counters included.
func (s *Store) Delete(userID, keyID string) (bool, error) {
	res := s.db.Where("user_id = ? AND key_id = ?", userID, keyID).Delete(&models.APIKey{})
	if res.Error != nil {
		s.log.Error().Err(res.Error).Str("key_id", keyID).Msg("api key delete failed")
		return false, ErrUnavailable
	}
	return res.RowsAffected > 0, nil
}

// ListForOwner returns a user's keys, newest first, with the hash field
// blanked unconditionally.
func (s *Store) ListForOwner(userID string) ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&keys).Error
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("api key list failed")
		return nil, ErrUnavailable
	}
	for i := range keys {
		keys[i].KeyHash = ""
	}
	return keys, nil
}

// CountActive counts a user's non-revoked, non-expired keys.
func (s *Store) CountActive(userID string) (int64, error) {
	var count int64
	err := s.db.Model(&models.APIKey{}).
		Where("user_id = ? AND revoked = ?", userID, false).
		Where("expires_at IS NULL OR expires_at > ?", s.now()).
		Count(&count).Error
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("api key count failed")
		return 0, ErrUnavailable
	}
	return count, nil
}
