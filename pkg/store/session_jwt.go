package store

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTIssuer   = "hustl-auth"
	defaultJWTAudience = "hustl-app"
	defaultJWTKeyID    = "jwt-active"
	defaultSessionTTL  = time.Hour
)

var defaultJWTLeeway = 30 * time.Second

var (
	// ErrInvalidToken covers malformed, expired or wrongly signed tokens.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenRevoked is returned for tokens invalidated by sign-out.
	ErrTokenRevoked = errors.New("token revoked")
)

// JWTConfig configures the RS256 session store.
type JWTConfig struct {
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string
	// VerifyKeyFiles maps kid -> public key path for keys still accepted
	// after rotation.
	VerifyKeyFiles map[string]string
	TTL            time.Duration
	Issuer         string
	Audience       string
	Leeway         time.Duration
	Revoker        TokenRevoker
}

// JWTSessionStore issues and validates RS256 access tokens. Revocation on
// sign-out is by jti, kept until the token would have expired anyway.
type JWTSessionStore struct {
	ttl       time.Duration
	revoker   TokenRevoker
	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey
	issuer    string
	audience  string
	leeway    time.Duration
}

// NewJWTSessionStoreFromPEM loads the signing key (and optional previous
// verification keys) from PEM files.
func NewJWTSessionStoreFromPEM(cfg JWTConfig) (*JWTSessionStore, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	s := NewJWTSessionStore(privateKey, cfg)
	if strings.TrimSpace(cfg.PublicKeyPath) != "" {
		pub, err := loadRSAPublicKeyFromPEMFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		s.verifiers[s.signerKid] = pub
	}
	for kid, path := range cfg.VerifyKeyFiles {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		s.verifiers[kid] = pub
	}
	return s, nil
}

// NewJWTSessionStore builds a store around an in-memory signing key.
func NewJWTSessionStore(privateKey *rsa.PrivateKey, cfg JWTConfig) *JWTSessionStore {
	kid := strings.TrimSpace(cfg.KeyID)
	if kid == "" {
		kid = defaultJWTKeyID
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultJWTIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultJWTAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultJWTLeeway
	}
	return &JWTSessionStore{
		ttl:       ttl,
		revoker:   cfg.Revoker,
		signer:    privateKey,
		signerKid: kid,
		verifiers: map[string]*rsa.PublicKey{kid: &privateKey.PublicKey},
		issuer:    issuer,
		audience:  audience,
		leeway:    leeway,
	}
}

// NewSession signs a token for userID.
func (s *JWTSessionStore) NewSession(_ context.Context, userID string) (Session, error) {
	if s.signer == nil {
		return Session{}, errors.New("jwt store not configured")
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    s.issuer,
		Audience:  jwt.ClaimStrings{s.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ID:        randomHexID(12),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.signerKid
	signed, err := token.SignedString(s.signer)
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken: signed,
		TokenType:   "bearer",
		UserID:      userID,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// GetSession verifies a token and returns its session.
func (s *JWTSessionStore) GetSession(ctx context.Context, token string) (Session, error) {
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return Session{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Session{}, err
		}
		if revoked {
			return Session{}, ErrTokenRevoked
		}
	}
	return Session{
		AccessToken: strings.TrimSpace(token),
		TokenType:   "bearer",
		UserID:      claims.Subject,
		IssuedAt:    claims.IssuedAt.Time,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// DeleteSession revokes the token until it expires. Tokens that no longer
// verify need no revocation.
func (s *JWTSessionStore) DeleteSession(ctx context.Context, token string) error {
	if s.revoker == nil {
		return nil
	}
	claims, err := s.parseAndVerify(token)
	if err != nil {
		return nil
	}
	return s.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

func (s *JWTSessionStore) parseAndVerify(token string) (jwt.RegisteredClaims, error) {
	claims := jwt.RegisteredClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := s.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.leeway),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return claims, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	return claims, nil
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse rsa public key: %w", err)
	}
	pub, ok := pubAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not rsa")
	}
	return pub, nil
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%x", buf)
}
