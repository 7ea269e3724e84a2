package service

import (
	"context"
	"strings"
	"testing"

	"github.com/datht30102002/keygate/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type mockUserStore struct {
	users      map[string]*models.User // by ID
	lastLimit  int
	lastOffset int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{users: make(map[string]*models.User)}
}

func (m *mockUserStore) Create(_ context.Context, user *models.User) error {
	for _, existing := range m.users {
		if existing.Username == user.Username {
			return gorm.ErrDuplicatedKey
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	m.users[user.ID.String()] = &cp
	return nil
}

func (m *mockUserStore) FindByID(_ context.Context, id string) (*models.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}

func (m *mockUserStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	for _, user := range m.users {
		if user.Username == username {
			cp := *user
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockUserStore) List(_ context.Context, limit, offset int, search string) ([]models.User, error) {
	m.lastLimit = limit
	m.lastOffset = offset

	var result []models.User
	for _, user := range m.users {
		if search == "" || strings.Contains(user.Username, search) {
			result = append(result, *user)
		}
	}
	return result, nil
}

func (m *mockUserStore) Update(_ context.Context, id string, updates map[string]interface{}) error {
	user, ok := m.users[id]
	if !ok {
		return nil
	}
	if v, ok := updates["first_name"]; ok {
		user.FirstName = v.(string)
	}
	if v, ok := updates["last_name"]; ok {
		user.LastName = v.(string)
	}
	return nil
}

func (m *mockUserStore) Delete(_ context.Context, id string) error {
	delete(m.users, id)
	return nil
}

func TestRegisterHashesPassword(t *testing.T) {
	svc := NewUserService(newMockUserStore())

	user, err := svc.Register(context.Background(), "alice", "hunter2", "Alice", "Smith")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, user.ID)

	assert.NotEqual(t, "hunter2", user.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("hunter2")))
}

func TestRegisterDuplicateUsername(t *testing.T) {
	svc := NewUserService(newMockUserStore())

	_, err := svc.Register(context.Background(), "alice", "pw1", "", "")
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), "alice", "pw2", "", "")
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestListPagination(t *testing.T) {
	store := newMockUserStore()
	svc := NewUserService(store)

	_, err := svc.List(context.Background(), 3, 20, "")
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastLimit)
	assert.Equal(t, 40, store.lastOffset)

	// Out-of-range values fall back to the first page of ten
	_, err = svc.List(context.Background(), 0, -5, "")
	require.NoError(t, err)
	assert.Equal(t, 10, store.lastLimit)
	assert.Equal(t, 0, store.lastOffset)
}

func TestGetUnknownUser(t *testing.T) {
	svc := NewUserService(newMockUserStore())

	_, err := svc.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateAppliesPartialChanges(t *testing.T) {
	store := newMockUserStore()
	svc := NewUserService(store)

	user, err := svc.Register(context.Background(), "alice", "pw", "Alice", "Smith")
	require.NoError(t, err)

	updated, err := svc.Update(context.Background(), user.ID.String(), map[string]interface{}{"last_name": "Jones"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.FirstName)
	assert.Equal(t, "Jones", updated.LastName)
}

func TestDeleteUnknownUser(t *testing.T) {
	svc := NewUserService(newMockUserStore())

	err := svc.Delete(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrUserNotFound)
}
