package services

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/common"
	"github.com/dmitrijs2005/usersvc/internal/dbx"
	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/usersvc/internal/server/repositories/users"
	"github.com/google/uuid"
)

// memStore is an in-memory credential store shared by the fake repositories.
// One mutex guards both tables so conditional updates are atomic.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*models.User
	tokens map[string]*models.RefreshToken // by id

	// failWith, when set, is returned by every repository call.
	failWith error
}

func newMemStore() *memStore {
	return &memStore{
		users:  map[string]*models.User{},
		tokens: map[string]*models.RefreshToken{},
	}
}

type fakeManager struct {
	store *memStore
}

func (m *fakeManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *fakeManager) Users(dbx.DBTX) users.Repository { return &fakeUsers{s: m.store} }

func (m *fakeManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return &fakeTokens{s: m.store}
}

type fakeUsers struct {
	s *memStore
}

func (r *fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, existing := range r.s.users {
		if strings.EqualFold(existing.UserName, u.UserName) {
			return nil, common.ErrUsernameTaken
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return nil, common.ErrEmailTaken
		}
	}
	cp := *u
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.CreatedAt = time.Now().UTC()
	r.s.users[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeUsers) find(match func(*models.User) bool) (*models.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, u := range r.s.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeUsers) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return strings.EqualFold(u.UserName, login) })
}

func (r *fakeUsers) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.Email != "" && strings.EqualFold(u.Email, email) })
}

func (r *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	return r.find(func(u *models.User) bool { return u.ID == id })
}

func (r *fakeUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	u, ok := r.s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (r *fakeUsers) Update(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[user.ID]
	if !ok {
		return common.ErrorNotFound
	}
	u.Name, u.LastName, u.UserName = user.Name, user.LastName, user.UserName
	return nil
}

func (r *fakeUsers) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.users, id)
	return nil
}

func (r *fakeUsers) Search(context.Context, string, string) ([]*models.User, error) {
	return nil, nil
}

type fakeTokens struct {
	s *memStore
}

func (r *fakeTokens) Create(_ context.Context, t *models.RefreshToken) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	cp := *t
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	cp.CreatedAt = time.Now().UTC()
	r.s.tokens[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r *fakeTokens) Find(_ context.Context, token string) (*models.RefreshToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return nil, r.s.failWith
	}
	for _, t := range r.s.tokens {
		if t.Token == token {
			cp := *t
			if u, ok := r.s.users[t.UserID]; ok {
				cp.User = &models.User{ID: u.ID, UserName: u.UserName}
			}
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *fakeTokens) Rotate(_ context.Context, id, presented, next string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return r.s.failWith
	}
	t, ok := r.s.tokens[id]
	if !ok || t.Token != presented {
		return common.ErrorNotFound
	}
	t.Token = next
	t.ExpiresAt = expiresAt
	return nil
}

func (r *fakeTokens) Delete(_ context.Context, token string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return false, r.s.failWith
	}
	for id, t := range r.s.tokens {
		if t.Token == token {
			delete(r.s.tokens, id)
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTokens) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failWith != nil {
		return 0, r.s.failWith
	}
	var n int64
	for id, t := range r.s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.s.tokens, id)
			n++
		}
	}
	return n, nil
}

// recordingDelivery remembers every delivered password.
type recordingDelivery struct {
	mu        sync.Mutex
	passwords map[string]string
	err       error
}

func (d *recordingDelivery) DeliverPassword(_ context.Context, u *models.User, password string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.passwords == nil {
		d.passwords = map[string]string{}
	}
	d.passwords[u.ID] = password
	return d.err
}
