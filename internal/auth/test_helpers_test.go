package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeStore is an in-memory Store used by the service and handler tests.
type fakeStore struct {
	mu              sync.Mutex
	usersByID       map[uuid.UUID]StaffUser
	sessionsByID    map[uuid.UUID]Session
	sessionsByToken map[string]uuid.UUID
	resetsByToken   map[string]PasswordReset
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		usersByID:       make(map[uuid.UUID]StaffUser),
		sessionsByID:    make(map[uuid.UUID]Session),
		sessionsByToken: make(map[string]uuid.UUID),
		resetsByToken:   make(map[string]PasswordReset),
	}
}

func (f *fakeStore) addUser(u StaffUser) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usersByID[u.ID] = u
}

func (f *fakeStore) sessionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessionsByID)
}

func (f *fakeStore) hasSessionToken(hashed string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessionsByToken[hashed]
	return ok
}

func (f *fakeStore) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resetsByToken)
}

func (f *fakeStore) CreateUser(_ context.Context, name, email, passwordHash string) (StaffUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.usersByID {
		if u.Email == email {
			return StaffUser{}, &pgconn.PgError{Code: "23505"}
		}
	}
	now := time.Now()
	u := StaffUser{
		ID:           uuid.New(),
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Roles:        []string{"staff"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	f.usersByID[u.ID] = u
	return u, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (StaffUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.usersByID {
		if u.Email == email {
			return u, nil
		}
	}
	return StaffUser{}, ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id uuid.UUID) (StaffUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usersByID[id]
	if !ok {
		return StaffUser{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usersByID[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now()
	f.usersByID[id] = u
	return nil
}

func (f *fakeStore) CreateSession(_ context.Context, s Session) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = uuid.New()
	s.CreatedAt = time.Now()
	f.sessionsByID[s.ID] = s
	f.sessionsByToken[s.RefreshToken] = s.ID
	return s, nil
}

func (f *fakeStore) GetSessionByToken(_ context.Context, hashedToken string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.sessionsByToken[hashedToken]
	if !ok {
		return Session{}, ErrNotFound
	}
	return f.sessionsByID[id], nil
}

func (f *fakeStore) RotateSessionToken(_ context.Context, id uuid.UUID, hashedToken string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessionsByID[id]
	if !ok {
		return ErrNotFound
	}
	delete(f.sessionsByToken, s.RefreshToken)
	s.RefreshToken = hashedToken
	s.ExpiresAt = expiresAt
	f.sessionsByID[id] = s
	f.sessionsByToken[hashedToken] = id
	return nil
}

func (f *fakeStore) DeleteSessionByToken(_ context.Context, hashedToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.sessionsByToken[hashedToken]; ok {
		delete(f.sessionsByID, id)
		delete(f.sessionsByToken, hashedToken)
	}
	return nil
}

func (f *fakeStore) DeleteSessionsByUser(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, s := range f.sessionsByID {
		if s.UserID == userID {
			delete(f.sessionsByToken, s.RefreshToken)
			delete(f.sessionsByID, id)
		}
	}
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID uuid.UUID, token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetsByToken[token] = PasswordReset{
		ID:        uuid.New(),
		UserID:    userID,
		Token:     token,
		ExpiresAt: expiresAt,
	}
	return nil
}

func (f *fakeStore) GetPasswordResetByToken(_ context.Context, token string) (PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resetsByToken[token]
	if !ok {
		return PasswordReset{}, ErrNotFound
	}
	return reset, nil
}

func (f *fakeStore) UsePasswordReset(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reset, ok := f.resetsByToken[token]
	if !ok {
		return ErrNotFound
	}
	reset.UsedAt = time.Now()
	f.resetsByToken[token] = reset
	return nil
}

func (f *fakeStore) DeletePasswordResetsByUser(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for token, reset := range f.resetsByToken {
		if reset.UserID == userID {
			delete(f.resetsByToken, token)
		}
	}
	return nil
}
