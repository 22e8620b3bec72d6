// Package auth implements dashboard account signup and signin.
package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/sells-group/groundwater/internal/apperr"
	"github.com/sells-group/groundwater/internal/model"
	"github.com/sells-group/groundwater/internal/store"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// ErrInvalidCredentials is the public message for every signin failure.
const ErrInvalidCredentials = "invalid username or password"

// SignupRequest is the body of POST /signup.
type SignupRequest struct {
	Username   string  `json:"username"`
	Password   string  `json:"password"`
	Occupation string  `json:"occupation"`
	Location   *string `json:"location"`
}

// SigninRequest is the body of POST /signin.
type SigninRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service validates credentials against a UserStore.
type Service struct {
	users store.UserStore
	cost  int
	log   *zap.Logger

	// dummyHash is compared against on unknown usernames so that a miss
	// costs the same bcrypt work as a wrong password.
	dummyHash []byte
	compare   func(hash, password []byte) error
}

// NewService creates a Service hashing with the given bcrypt cost. Costs
// outside bcrypt's range fall back to DefaultBcryptCost.
func NewService(users store.UserStore, cost int) *Service {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	log := zap.L().With(zap.String("component", "auth"))
	dummy, err := bcrypt.GenerateFromPassword([]byte("groundwater-signin-placeholder"), cost)
	if err != nil {
		log.Warn("auth: generate placeholder hash", zap.Error(err))
	}
	return &Service{
		users:     users,
		cost:      cost,
		log:       log,
		dummyHash: dummy,
		compare:   bcrypt.CompareHashAndPassword,
	}
}

func occupationList() string {
	names := make([]string, len(model.Occupations))
	for i, o := range model.Occupations {
		names[i] = string(o)
	}
	return strings.Join(names, ", ")
}

// Signup creates an account and returns its public profile.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*model.UserProfile, error) {
	username := strings.TrimSpace(req.Username)
	occupation := model.Occupation(strings.TrimSpace(req.Occupation))
	if username == "" || strings.TrimSpace(req.Password) == "" || occupation == "" {
		return nil, apperr.Validation("username, password, and occupation are required")
	}
	if !occupation.Valid() {
		return nil, apperr.Validation("invalid occupation, must be one of: " + occupationList())
	}

	existing, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Store(err, "auth: lookup user")
	}
	if existing != nil {
		return nil, apperr.Conflict("user with this username already exists")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.Validation("password must be at most 72 bytes")
	}
	if err != nil {
		return nil, apperr.Store(err, "auth: hash password")
	}

	u := &model.User{
		Username:     username,
		PasswordHash: string(hash),
		Occupation:   occupation,
		Location:     normalizeLocation(req.Location),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrUsernameTaken) {
			return nil, apperr.Conflict("user with this username already exists")
		}
		return nil, apperr.Store(err, "auth: create user")
	}

	s.log.Info("auth: user registered", zap.Int64("user_id", u.ID), zap.String("occupation", string(u.Occupation)))
	p := u.Profile()
	return &p, nil
}

// Signin checks credentials. Unknown users and wrong passwords produce the
// same public error; only the log tells them apart.
func (s *Service) Signin(ctx context.Context, req SigninRequest) (*model.UserProfile, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, apperr.Validation("username and password are required")
	}

	u, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, apperr.Store(err, "auth: lookup user")
	}
	if u == nil {
		_ = s.compare(s.dummyHash, []byte(req.Password))
		s.log.Info("auth: signin rejected", zap.String("reason", "unknown_user"))
		return nil, apperr.Auth(ErrInvalidCredentials)
	}

	if err := s.compare([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		s.log.Info("auth: signin rejected", zap.String("reason", "bad_password"), zap.Int64("user_id", u.ID))
		return nil, apperr.Auth(ErrInvalidCredentials)
	}

	p := u.Profile()
	return &p, nil
}

func normalizeLocation(loc *string) *string {
	if loc == nil {
		return nil
	}
	v := strings.TrimSpace(*loc)
	if v == "" {
		return nil
	}
	return &v
}
