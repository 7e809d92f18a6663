package service

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/smallbiznis/portal/internal/auth/domain"
	"github.com/smallbiznis/portal/internal/config"
	"go.uber.org/zap"
)

const clockLeeway = 30 * time.Second

type portalClaims struct {
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Roles       []string `json:"roles"`
	AppMetadata struct {
		Roles []string `json:"roles"`
		Role  string   `json:"role"`
	} `json:"app_metadata"`
	jwt.RegisteredClaims
}

// Service verifies bearer tokens issued by the portal identity provider.
// RS256 is used when a public key is configured, HS256 otherwise.
type Service struct {
	log       *zap.Logger
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
}

func New(log *zap.Logger, cfg config.Config) (domain.Service, error) {
	svc := &Service{
		log:      log.Named("auth.service"),
		secret:   []byte(cfg.Auth.JWTSecret),
		issuer:   cfg.Auth.Issuer,
		audience: cfg.Auth.Audience,
	}
	if pemText := strings.TrimSpace(cfg.Auth.PublicKeyPEM); pemText != "" {
		key, err := ParseRSAPublicKey(pemText)
		if err != nil {
			return nil, fmt.Errorf("parse jwt public key: %w", err)
		}
		svc.publicKey = key
	}
	if svc.publicKey == nil && len(svc.secret) == 0 {
		svc.log.Warn("no jwt key configured; every request will be rejected")
	}
	return svc, nil
}

func (s *Service) Authenticate(ctx context.Context, rawToken string) (*domain.Identity, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, domain.ErrMissingToken
	}

	method, key := s.verificationKey()
	if key == nil {
		return nil, domain.ErrNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method}),
		jwt.WithLeeway(clockLeeway),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if s.audience != "" {
		opts = append(opts, jwt.WithAudience(s.audience))
	}

	parsed, err := jwt.ParseWithClaims(rawToken, &portalClaims{}, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		s.log.Debug("token rejected", zap.Error(err))
		return nil, domain.ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*portalClaims)
	if !ok || !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}

	identity := &domain.Identity{
		Subject: claims.Subject,
		Email:   strings.ToLower(strings.TrimSpace(claims.Email)),
		Roles:   collectRoles(claims),
	}
	if identity.Subject == "" && identity.Email == "" {
		return nil, domain.ErrInvalidToken
	}
	return identity, nil
}

func (s *Service) verificationKey() (string, any) {
	if s.publicKey != nil {
		return jwt.SigningMethodRS256.Alg(), s.publicKey
	}
	if len(s.secret) > 0 {
		return jwt.SigningMethodHS256.Alg(), s.secret
	}
	return "", nil
}

// collectRoles merges the top-level and app_metadata role claims. Tokens
// without any role are treated as clients.
func collectRoles(claims *portalClaims) []string {
	raw := append([]string{claims.Role, claims.AppMetadata.Role}, claims.Roles...)
	raw = append(raw, claims.AppMetadata.Roles...)
	roles := lo.Uniq(lo.FilterMap(raw, func(role string, _ int) (string, bool) {
		role = strings.ToLower(strings.TrimSpace(role))
		return role, role != ""
	}))
	if len(roles) == 0 {
		return []string{domain.RoleClient}
	}
	return roles
}

func ParseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
