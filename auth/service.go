package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMissingSecret signals an issuer or verifier built without a key.
	ErrMissingSecret = errors.New("auth: token secret is required")
	// ErrInvalidToken signals a token that failed parsing or validation.
	ErrInvalidToken = errors.New("auth: invalid token")
)

const issuerName = "boardportal"

// Service issues and verifies HS256 service tokens shared by the REST
// facade and its client.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service. It fails when secret is blank.
func NewService(secret string) (*Service, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	return &Service{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}, nil
}

func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueToken signs a token for subject carrying the given scopes.
func (s *Service) IssueToken(subject string, scopes ...Scope) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("auth: subject is required")
	}
	names := make([]string, len(scopes))
	for i, sc := range scopes {
		names[i] = string(sc)
	}
	now := s.now()
	claims := jwt.MapClaims{
		"iss":   issuerName,
		"sub":   subject,
		"scope": strings.Join(names, " "),
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a token and returns its principal.
func (s *Service) VerifyToken(tokenString string) (Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuerName), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return Principal{}, fmt.Errorf("%w: missing expiry", ErrInvalidToken)
	}
	scopeStr, _ := claims["scope"].(string)
	var scopes []Scope
	for _, name := range strings.Fields(scopeStr) {
		scopes = append(scopes, Scope(name))
	}
	return Principal{Subject: sub, Scopes: scopes, ExpiresAt: exp.Time.UTC()}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
