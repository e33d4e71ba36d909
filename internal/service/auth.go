package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
)

var (
	ErrMissingToken     = errors.New("auth: missing token")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrIdentityMismatch = fmt.Errorf("%w: token subject does not match the requested identity", model.ErrForbidden)
	ErrInactiveAccount  = fmt.Errorf("%w: account is inactive or banned", model.ErrForbidden)
)

// Auther verifies credentials issued by the platform's auth service.
type Auther interface {
	// Authenticate returns the subject identity of a valid token.
	Authenticate(token string) (string, error)
	// AuthorizeConnection checks that token belongs to identity and that the
	// account may hold a realtime connection.
	AuthorizeConnection(ctx context.Context, identity, token string) (*model.User, error)
}

type Claims struct {
	jwt.RegisteredClaims
}

type AuthService struct {
	secret []byte
	users  Directory
	parser *jwt.Parser
}

var _ Auther = (*AuthService)(nil)

func NewAuthService(secret string, users Directory) *AuthService {
	return &AuthService{
		secret: []byte(secret),
		users:  users,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

func (s *AuthService) Authenticate(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("%w: no signing secret configured", ErrInvalidToken)
	}

	claims := &Claims{}
	parsed, err := s.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return "", ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || model.ValidateIdentity(sub) != nil {
		return "", fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return sub, nil
}

func (s *AuthService) AuthorizeConnection(ctx context.Context, identity, token string) (*model.User, error) {
	sub, err := s.Authenticate(token)
	if err != nil {
		return nil, err
	}
	if sub != identity {
		return nil, ErrIdentityMismatch
	}

	user, err := s.users.Lookup(ctx, identity)
	if err != nil {
		return nil, err
	}
	if !user.CanConnect() {
		return nil, ErrInactiveAccount
	}
	return user, nil
}

// Issue signs a token for identity. Tokens are normally issued by the auth
// service; this exists for tooling and tests.
func (s *AuthService) Issue(identity string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   identity,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// BearerToken extracts the token of an Authorization header.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	return strings.TrimSpace(token), nil
}
