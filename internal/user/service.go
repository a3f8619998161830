package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyBlocked     = errors.New("user is already blocked")
	ErrNotBlocked         = errors.New("user is not blocked")
)

const issuer = "go-chat-app"

// Store is the persistence the service needs. *Repository satisfies it.
type Store interface {
	CreateUser(ctx context.Context, user *User) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id int) (*User, error)
	SearchUsers(ctx context.Context, query string, excludeID int) ([]User, error)
	UpdateProfile(ctx context.Context, u *User) error
	Block(ctx context.Context, blockerID, blockedID int) error
	Unblock(ctx context.Context, blockerID, blockedID int) error
	IsBlocked(ctx context.Context, blockerID, blockedID int) (bool, error)
}

type Service struct {
	repo      Store
	jwtSecret string
	tokenTTL  time.Duration
	hashCost  int
}

type Option func(*Service)

// WithHashCost overrides the bcrypt cost, e.g. to keep tests fast.
func WithHashCost(cost int) Option {
	return func(s *Service) { s.hashCost = cost }
}

type MyJWTClaims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo Store, secret string, tokenTTL time.Duration, opts ...Option) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	s := &Service{
		repo:      repo,
		jwtSecret: secret,
		tokenTTL:  tokenTTL,
		hashCost:  bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = username
	}
	u := &User{
		Username: username,
		Password: string(hashedPwd),
		Name:     name,
		Status:   req.Status,
		Image:    req.Image,
	}

	return s.repo.CreateUser(ctx, u)
}

func (s *Service) Login(ctx context.Context, req *RegisterRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	ss, err := s.IssueToken(u)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
	}, nil
}

// IssueToken signs an access token for u.
func (s *Service) IssueToken(u *User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID:       u.ID,
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))

	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == 0 {
		return 0, "", ErrInvalidToken
	}

	return claims.ID, claims.Username, nil
}

// Authenticate validates the token and confirms the identity still exists.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*User, error) {
	id, _, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, fmt.Errorf("%w: identity no longer exists", ErrInvalidToken)
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string, callerID int) ([]User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: enter a name to search", ErrInvalidInput)
	}
	return s.repo.SearchUsers(ctx, query, callerID)
}

func (s *Service) GetUser(ctx context.Context, id int) (*User, error) {
	return s.repo.GetUserByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, id int, req *UpdateProfileRequest) (*User, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: please provide a name", ErrInvalidInput)
	}

	u, err := s.repo.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
		if err != nil {
			return nil, err
		}
		u.Password = string(hashed)
	}
	u.Name = name
	u.Status = req.Status
	u.Image = req.Image

	if err := s.repo.UpdateProfile(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Service) Block(ctx context.Context, blockerID, blockedID int) error {
	if blockedID == 0 {
		return fmt.Errorf("%w: provide a user to block", ErrInvalidInput)
	}
	if blockerID == blockedID {
		return fmt.Errorf("%w: you can not block or unblock yourself", ErrInvalidInput)
	}
	if _, err := s.repo.GetUserByID(ctx, blockedID); err != nil {
		return err
	}
	return s.repo.Block(ctx, blockerID, blockedID)
}

func (s *Service) Unblock(ctx context.Context, blockerID, blockedID int) error {
	if blockedID == 0 {
		return fmt.Errorf("%w: provide a user to unblock", ErrInvalidInput)
	}
	if blockerID == blockedID {
		return fmt.Errorf("%w: you can not block or unblock yourself", ErrInvalidInput)
	}
	return s.repo.Unblock(ctx, blockerID, blockedID)
}

// IsBlocked reports whether blockerID has blocked blockedID.
func (s *Service) IsBlocked(ctx context.Context, blockerID, blockedID int) (bool, error) {
	return s.repo.IsBlocked(ctx, blockerID, blockedID)
}
