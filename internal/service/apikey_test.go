package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/datht30102002/keygate/internal/config"
	"github.com/datht30102002/keygate/internal/models"
	"github.com/datht30102002/keygate/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// mockKeyStore is an in-memory KeyStore, safe for concurrent use by the
// usage tracker workers.
type mockKeyStore struct {
	mu          sync.Mutex
	keys        map[string]*models.APIKey
	createErrs  []error // consumed one per Create call
	usageErr    error
	createCalls int
	usageCalls  int
}

func newMockKeyStore() *mockKeyStore {
	return &mockKeyStore{keys: make(map[string]*models.APIKey)}
}

func (m *mockKeyStore) Create(_ context.Context, apiKey *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.createCalls++
	if len(m.createErrs) > 0 {
		err := m.createErrs[0]
		m.createErrs = m.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, exists := m.keys[apiKey.KeyHash]; exists {
		return gorm.ErrDuplicatedKey
	}

	cp := *apiKey
	m.keys[apiKey.KeyHash] = &cp
	return nil
}

func (m *mockKeyStore) FindByHash(_ context.Context, hash string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[hash]
	if !ok {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (m *mockKeyStore) FindByOwnerAndHash(_ context.Context, ownerID, hash string) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[hash]
	if !ok || key.OwnerID != ownerID {
		return nil, nil
	}
	cp := *key
	return &cp, nil
}

func (m *mockKeyStore) FindByOwner(_ context.Context, ownerID string) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.APIKey
	for _, key := range m.keys {
		if key.OwnerID == ownerID {
			result = append(result, *key)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		var ti, tj time.Time
		if result[i].LastUsedAt != nil {
			ti = *result[i].LastUsedAt
		}
		if result[j].LastUsedAt != nil {
			tj = *result[j].LastUsedAt
		}
		return ti.After(tj)
	})
	return result, nil
}

func (m *mockKeyStore) Update(_ context.Context, hash string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.keys[hash]
	if !ok {
		return nil
	}
	if v, ok := updates["is_active"]; ok {
		key.IsActive = v.(bool)
	}
	if v, ok := updates["never_expires"]; ok {
		key.NeverExpires = v.(bool)
	}
	if v, ok := updates["expires_at"]; ok {
		t := v.(time.Time)
		key.ExpiresAt = &t
	}
	return nil
}

func (m *mockKeyStore) UpdateUsage(_ context.Context, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.usageCalls++
	if m.usageErr != nil {
		return m.usageErr
	}
	if key, ok := m.keys[hash]; ok {
		key.UsageCount++
		now := time.Now().UTC()
		key.LastUsedAt = &now
	}
	return nil
}

func (m *mockKeyStore) usageCount(hash string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[hash]; ok {
		return key.UsageCount
	}
	return -1
}

func setupKeyService(t *testing.T) (*APIKeyService, *mockKeyStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redis, err := storage.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { redis.Close() })

	store := newMockKeyStore()

	tracker := NewUsageTracker(store, 64, 1)
	tracker.Start()
	t.Cleanup(tracker.Stop)

	cfg := &config.APIKeyConfig{DefaultTTLHours: 24}
	return NewAPIKeyService(store, redis, tracker, cfg), store
}

func TestIssueReturnsPlaintextOnce(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "ci key", false, []string{"admin"}, nil)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "ak_"))

	stored := store.keys[HashKey(plaintext)]
	require.NotNil(t, stored)
	assert.NotContains(t, stored.KeyHash, plaintext)
	assert.Equal(t, "owner-1", stored.OwnerID)
	assert.True(t, stored.IsActive)
	assert.Equal(t, int64(0), stored.UsageCount)
	assert.NotNil(t, stored.ExpiresAt)
}

func TestHashKeyIsDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("ak_abc"), HashKey("ak_abc"))
	assert.NotEqual(t, HashKey("ak_abc"), HashKey("ak_abd"))
	assert.Len(t, HashKey("anything"), 64)
}

func TestValidateAfterIssue(t *testing.T) {
	svc, _ := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "prod", true, []string{"admin", "reader"}, map[string]interface{}{"env": "prod"})
	require.NoError(t, err)

	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	require.NotNil(t, identity)

	assert.Equal(t, "owner-1", identity.OwnerID)
	assert.Equal(t, []string{"admin", "reader"}, identity.Roles)
	assert.Equal(t, "prod", identity.Config["env"])
}

func TestValidateUnknownKey(t *testing.T) {
	svc, _ := setupKeyService(t)

	_, err := svc.Issue(context.Background(), "owner-1", "real", true, nil, nil)
	require.NoError(t, err)

	// Same shape as an issued key, but never issued
	fake := "ak_" + strings.Repeat("A", 44)
	identity, err := svc.Validate(context.Background(), fake)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestValidateExpiredKey(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "short lived", false, nil, nil)
	require.NoError(t, err)

	// Force the expiration into the past
	past := time.Now().UTC().Add(-time.Minute)
	store.keys[HashKey(plaintext)].ExpiresAt = &past

	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestValidateNeverExpiresIgnoresExpiration(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "forever", true, nil, nil)
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	store.keys[HashKey(plaintext)].ExpiresAt = &past

	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestValidateRevokedKey(t *testing.T) {
	svc, _ := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "to revoke", true, nil, nil)
	require.NoError(t, err)

	// Populate the cache first so revocation has to invalidate it
	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	require.NotNil(t, identity)

	require.NoError(t, svc.Revoke(context.Background(), "owner-1", plaintext))

	identity, err = svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestValidateReturnsPreviousLastUsed(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "k", true, nil, nil)
	require.NoError(t, err)

	before := *store.keys[HashKey(plaintext)].LastUsedAt

	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	require.NotNil(t, identity)
	require.NotNil(t, identity.LastUsedAt)

	// The caller sees the usage as it was before this validation
	assert.True(t, identity.LastUsedAt.Equal(before))
}

func TestUsageCountConverges(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "busy", true, nil, nil)
	require.NoError(t, err)
	hash := HashKey(plaintext)

	const n = 5
	for i := 0; i < n; i++ {
		identity, err := svc.Validate(context.Background(), plaintext)
		require.NoError(t, err)
		require.NotNil(t, identity)
	}

	// The update is asynchronous; poll until it converges
	assert.Eventually(t, func() bool {
		return store.usageCount(hash) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIssueRetriesOnceOnCollision(t *testing.T) {
	svc, store := setupKeyService(t)
	store.createErrs = []error{gorm.ErrDuplicatedKey}

	plaintext, err := svc.Issue(context.Background(), "owner-1", "unlucky", false, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.Equal(t, 2, store.createCalls)
}

func TestIssueFailsOnRepeatedCollision(t *testing.T) {
	svc, store := setupKeyService(t)
	store.createErrs = []error{gorm.ErrDuplicatedKey, gorm.ErrDuplicatedKey}

	_, err := svc.Issue(context.Background(), "owner-1", "doomed", false, nil, nil)
	require.ErrorIs(t, err, ErrKeyGeneration)
	assert.Equal(t, 2, store.createCalls)
}

func TestRevokeOwnerMismatch(t *testing.T) {
	svc, _ := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "mine", true, nil, nil)
	require.NoError(t, err)

	err = svc.Revoke(context.Background(), "owner-2", plaintext)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRenewReactivatesRevokedKey(t *testing.T) {
	svc, _ := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "phoenix", false, nil, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), "owner-1", plaintext))

	newExpiry, err := svc.Renew(context.Background(), "owner-1", plaintext, "")
	require.NoError(t, err)
	require.NotNil(t, newExpiry)
	assert.True(t, newExpiry.After(time.Now()))

	identity, err := svc.Validate(context.Background(), plaintext)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestRenewWithExplicitDate(t *testing.T) {
	svc, store := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "k", false, nil, nil)
	require.NoError(t, err)

	date := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	newExpiry, err := svc.Renew(context.Background(), "owner-1", plaintext, date.Format(time.RFC3339))
	require.NoError(t, err)
	require.NotNil(t, newExpiry)
	assert.True(t, newExpiry.Equal(date))
	assert.True(t, store.keys[HashKey(plaintext)].ExpiresAt.Equal(date))
}

func TestRenewRejectsBadDate(t *testing.T) {
	svc, _ := setupKeyService(t)

	plaintext, err := svc.Issue(context.Background(), "owner-1", "k", false, nil, nil)
	require.NoError(t, err)

	_, err = svc.Renew(context.Background(), "owner-1", plaintext, "tomorrow")
	assert.ErrorIs(t, err, ErrInvalidExpiration)
}

func TestListOrderedByMostRecentUsage(t *testing.T) {
	svc, store := setupKeyService(t)

	first, err := svc.Issue(context.Background(), "owner-1", "first", true, nil, nil)
	require.NoError(t, err)
	second, err := svc.Issue(context.Background(), "owner-1", "second", true, nil, nil)
	require.NoError(t, err)

	// Using the first key should move it to the front of the listing
	identity, err := svc.Validate(context.Background(), first)
	require.NoError(t, err)
	require.NotNil(t, identity)

	require.Eventually(t, func() bool {
		return store.usageCount(HashKey(first)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	keys, err := svc.List(context.Background(), "owner-1")
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "first", keys[0].Name)
	assert.Equal(t, "second", keys[1].Name)
	_ = second
}
