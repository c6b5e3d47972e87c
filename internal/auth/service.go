package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInactiveAccount    = errors.New("account is deactivated")
)

const (
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"

	minPasswordLength = 6
)

type Storage interface {
	View(ctx context.Context, fn func(doc *storage.Document) error) error
	Update(ctx context.Context, fn func(doc *storage.Document) error) error
}

type SignupInput struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Company   string `json:"company"`
	Password  string `json:"password"`
}

// Profile is an admin account as exposed over the API: everything but the hash.
type Profile struct {
	ID          string     `json:"id"`
	FirstName   string     `json:"firstName"`
	LastName    string     `json:"lastName"`
	Email       string     `json:"email"`
	Phone       string     `json:"phone"`
	Company     string     `json:"company"`
	Role        string     `json:"role"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
}

func NewProfile(a storage.AdminAccount) Profile {
	p := Profile{
		ID:        a.ID,
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Email:     a.Email,
		Phone:     a.Phone,
		Company:   a.Company,
		Role:      a.Role,
		CreatedAt: a.CreatedAt,
		IsActive:  a.IsActive,
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		p.LastLoginAt = &t
	}
	return p
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	Admin     Profile   `json:"admin"`
}

type Service struct {
	storage Storage
	tokens  *TokenManager
	logger  *zap.Logger
	timeNow func() time.Time
}

func NewService(st Storage, tokens *TokenManager, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage: st,
		tokens:  tokens,
		logger:  logger.With(zap.String("component", "auth_service")),
		timeNow: time.Now,
	}
}

func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

// NewAdminAccount validates the input and builds an active account with a
// hashed password. It does not persist anything.
func NewAdminAccount(in SignupInput, role string, now time.Time) (storage.AdminAccount, error) {
	email := normalizeEmail(in.Email)
	var missing []string
	if strings.TrimSpace(in.FirstName) == "" {
		missing = append(missing, "firstName")
	}
	if strings.TrimSpace(in.LastName) == "" {
		missing = append(missing, "lastName")
	}
	if email == "" {
		missing = append(missing, "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		return storage.AdminAccount{}, fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if len(in.Password) < minPasswordLength {
		return storage.AdminAccount{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return storage.AdminAccount{}, err
	}
	if role == "" {
		role = RoleAdmin
	}

	return storage.AdminAccount{
		ID:        uuid.NewString(),
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		Email:     email,
		Phone:     strings.TrimSpace(in.Phone),
		Company:   strings.TrimSpace(in.Company),
		Role:      role,
		Password:  hash,
		CreatedAt: now,
		IsActive:  true,
	}, nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func findAdminByEmail(doc *storage.Document, email string) (int, bool) {
	for i := range doc.AdminAccounts {
		if strings.EqualFold(doc.AdminAccounts[i].Email, email) {
			return i, true
		}
	}
	return -1, false
}

// Signup registers a new admin account. Emails are unique ignoring case.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Profile, error) {
	account, err := NewAdminAccount(in, RoleAdmin, s.timeNow())
	if err != nil {
		return nil, err
	}
	if err := s.storage.Update(ctx, func(doc *storage.Document) error {
		if _, ok := findAdminByEmail(doc, account.Email); ok {
			return storage.ErrAdminExists
		}
		doc.AdminAccounts = append(doc.AdminAccounts, account)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	s.logger.Info("Admin account created", zap.String("admin_id", account.ID), zap.String("email", account.Email))
	p := NewProfile(account)
	return &p, nil
}

// Login checks credentials, records the login time and issues a token.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	var account storage.AdminAccount
	err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := findAdminByEmail(doc, email)
		if !ok {
			return ErrInvalidCredentials
		}
		a := &doc.AdminAccounts[i]
		if err := bcrypt.CompareHashAndPassword([]byte(a.Password), []byte(password)); err != nil {
			return ErrInvalidCredentials
		}
		if !a.IsActive {
			return ErrInactiveAccount
		}
		now := s.timeNow()
		a.LastLoginAt = &now
		account = *a
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) || errors.Is(err, ErrInactiveAccount) {
			s.logger.Warn("Login rejected", zap.String("email", email), zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("failed to log in: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(account.ID, account.Email, account.Role)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: expiresAt, Admin: NewProfile(account)}, nil
}

// Authenticate resolves a bearer token to its claims. The account behind the
// token must still exist and be active.
func (s *Service) Authenticate(ctx context.Context, token string) (*Claims, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	err = s.storage.View(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindAdmin(claims.AdminID)
		if !ok {
			return ErrInvalidToken
		}
		if !doc.AdminAccounts[i].IsActive {
			return ErrInactiveAccount
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrInactiveAccount) {
			s.logger.Debug("Token rejected", zap.String("admin_id", claims.AdminID), zap.Error(err))
			return nil, err
		}
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	return claims, nil
}

func (s *Service) List(ctx context.Context) ([]Profile, error) {
	profiles := []Profile{}
	if err := s.storage.View(ctx, func(doc *storage.Document) error {
		for _, a := range doc.AdminAccounts {
			profiles = append(profiles, NewProfile(a))
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	return profiles, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if err := s.storage.View(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindAdmin(id)
		if !ok {
			return storage.ErrAdminNotFound
		}
		p = NewProfile(doc.AdminAccounts[i])
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to get admin: %w", err)
	}
	return &p, nil
}

func (s *Service) SetActive(ctx context.Context, id string, active bool) (*Profile, error) {
	var p Profile
	if err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindAdmin(id)
		if !ok {
			return storage.ErrAdminNotFound
		}
		doc.AdminAccounts[i].IsActive = active
		p = NewProfile(doc.AdminAccounts[i])
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to update admin: %w", err)
	}

	s.logger.Info("Admin account activation changed", zap.String("admin_id", id), zap.Bool("active", active))
	return &p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.storage.Update(ctx, func(doc *storage.Document) error {
		i, ok := doc.FindAdmin(id)
		if !ok {
			return storage.ErrAdminNotFound
		}
		doc.AdminAccounts = append(doc.AdminAccounts[:i], doc.AdminAccounts[i+1:]...)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to delete admin: %w", err)
	}

	s.logger.Info("Admin account deleted", zap.String("admin_id", id))
	return nil
}
