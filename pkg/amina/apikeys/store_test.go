package apikeys

import (
	"testing"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/models"
	"github.com/aminahq/amina-api/pkg/amina/ratelimit"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	return db
}

func setupTestStore(t *testing.T) *Store {
	return NewStore(setupTestDB(t), zerolog.Nop())
}

const testUserID = "123456789012345678"

func TestIssueAndVerify(t *testing.T) {
	store := setupTestStore(t)

	key, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if record.KeyID == "" || record.KeyPrefix == "" {
		t.Error("Expected key id and prefix to be populated")
	}
	if len(record.Permissions) != 1 || record.Permissions[0] != "all" {
		t.Errorf("Expected default permissions [all], got %v", record.Permissions)
	}

	user, verified, err := store.Verify(key)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user == nil || verified == nil {
		t.Fatal("Expected issued key to verify")
	}
	if user.ID != testUserID {
		t.Errorf("Expected owner %q, got %q", testUserID, user.ID)
	}
	if verified.KeyID != record.KeyID {
		t.Errorf("Expected key id %q, got %q", record.KeyID, verified.KeyID)
	}
}

func TestVerifyRejectsMutatedKey(t *testing.T) {
	store := setupTestStore(t)

	key, _, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	// Flip the last character
	last := key[len(key)-1]
	mutated := key[:len(key)-1]
	if last == 'a' {
		mutated += "b"
	} else {
		mutated += "a"
	}

	user, record, err := store.Verify(mutated)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user != nil || record != nil {
		t.Error("Expected mutated key to not match")
	}
}

func TestVerifyRejectsWrongPrefix(t *testing.T) {
	store := setupTestStore(t)

	user, record, err := store.Verify("sk_live_nothing_like_our_format")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user != nil || record != nil {
		t.Error("Expected foreign key format to not match")
	}
}

func TestRevokeIdempotent(t *testing.T) {
	store := setupTestStore(t)

	key, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	found, err := store.Revoke(testUserID, record.KeyID)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if !found {
		t.Error("Expected first revoke to find an active key")
	}

	// Second revoke reports no active record
	found, err = store.Revoke(testUserID, record.KeyID)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if found {
		t.Error("Expected second revoke to report not found")
	}

	user, verified, err := store.Verify(key)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user != nil || verified != nil {
		t.Error("Expected revoked key to fail verification")
	}
}

func TestRevokeOtherUsersKey(t *testing.T) {
	store := setupTestStore(t)

	_, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	found, err := store.Revoke("999999999999999999", record.KeyID)
	if err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if found {
		t.Error("Expected revoke scoped to another user to report not found")
	}
}

func TestExpiredKeyRejected(t *testing.T) {
	store := setupTestStore(t)

	base := time.Now()
	store.now = func() time.Time { return base }

	expires := base.Add(time.Hour)
	_, record, err := store.Issue(testUserID, IssueOptions{Name: "short lived", ExpiresAt: &expires})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if !store.CheckNotExpired(record) {
		t.Error("Expected key to be valid before expiry")
	}

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	if store.CheckNotExpired(record) {
		t.Error("Expected key to be rejected after expiry")
	}
}

func TestActiveKeyCeiling(t *testing.T) {
	store := setupTestStore(t)

	for i := 0; i < models.MaxActiveKeysPerUser; i++ {
		if _, _, err := store.Issue(testUserID, IssueOptions{Name: "key"}); err != nil {
			t.Fatalf("Issue %d failed: %v", i+1, err)
		}
	}

	if _, _, err := store.Issue(testUserID, IssueOptions{Name: "one too many"}); err != ErrKeyLimit {
		t.Errorf("Expected ErrKeyLimit, got %v", err)
	}

	// Revoking a key frees a slot
	keys, err := store.ListForOwner(testUserID)
	if err != nil {
		t.Fatalf("ListForOwner failed: %v", err)
	}
	if _, err := store.Revoke(testUserID, keys[0].KeyID); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	if _, _, err := store.Issue(testUserID, IssueOptions{Name: "replacement"}); err != nil {
		t.Errorf("Expected issue to succeed after revoke, got %v", err)
	}
}

func TestListForOwnerStripsHashes(t *testing.T) {
	store := setupTestStore(t)

	if _, _, err := store.Issue(testUserID, IssueOptions{Name: "a"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if _, _, err := store.Issue(testUserID, IssueOptions{Name: "b"}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	keys, err := store.ListForOwner(testUserID)
	if err != nil {
		t.Fatalf("ListForOwner failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(keys))
	}
	for _, k := range keys {
		if k.KeyHash != "" {
			t.Error("Expected key hash to be stripped from listings")
		}
	}
}

func TestPolicyDefaults(t *testing.T) {
	store := setupTestStore(t)

	custom := ratelimit.Policy{Requests: 10, Window: 30}
	_, record, err := store.Issue(testUserID, IssueOptions{Name: "custom", Policy: &custom})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if got := store.Policy(record); got != custom {
		t.Errorf("Expected custom policy %+v, got %+v", custom, got)
	}

	// Zeroed columns fall back to the default policy
	if got := store.Policy(&models.APIKey{}); got != ratelimit.DefaultPolicy {
		t.Errorf("Expected default policy, got %+v", got)
	}
}

func TestRecordUsage(t *testing.T) {
	store := setupTestStore(t)

	_, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	store.RecordUsage(testUserID, record.KeyID)
	store.RecordUsage(testUserID, record.KeyID)

	keys, err := store.ListForOwner(testUserID)
	if err != nil {
		t.Fatalf("ListForOwner failed: %v", err)
	}
	if keys[0].UsageTotal != 2 {
		t.Errorf("Expected usage total 2, got %d", keys[0].UsageTotal)
	}
	if keys[0].LastUsedAt == nil {
		t.Error("Expected last used timestamp to be set")
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	store := setupTestStore(t)

	_, record, err := store.Issue(testUserID, IssueOptions{Name: "my key"})
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	found, err := store.Delete(testUserID, record.KeyID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !found {
		t.Error("Expected delete to find the key")
	}

	keys, err := store.ListForOwner(testUserID)
	if err != nil {
		t.Fatalf("ListForOwner failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("Expected no keys after delete, got %d", len(keys))
	}
}
