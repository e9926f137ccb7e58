package devbackend

import (
	"errors"
	"strings"
	"sync"

	v1 "tradegate/pkg/api/v1"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrEmailTaken = errors.New("email already registered")

type user struct {
	profile      v1.Profile
	passwordHash []byte
}

// UserStore keeps accounts in memory; the development backend has no database.
type UserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*user
	byID    map[string]*user
}

func NewUserStore() *UserStore {
	return &UserStore{
		byEmail: make(map[string]*user),
		byID:    make(map[string]*user),
	}
}

func (s *UserStore) Create(req v1.RegisterRequest) (*v1.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, errors.New("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrEmailTaken
	}
	u := &user{
		profile: v1.Profile{
			ID:         uuid.NewString(),
			Email:      email,
			FirstName:  req.FirstName,
			LastName:   req.LastName,
			IsVerified: true,
			KYCStatus:  "pending",
		},
		passwordHash: hash,
	}
	s.byEmail[email] = u
	s.byID[u.profile.ID] = u
	p := u.profile
	return &p, nil
}

func (s *UserStore) Authenticate(email, password string) (*v1.Profile, bool) {
	s.mu.RLock()
	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)) != nil {
		return nil, false
	}
	p := u.profile
	return &p, true
}

func (s *UserStore) Get(id string) (*v1.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	p := u.profile
	return &p, true
}
