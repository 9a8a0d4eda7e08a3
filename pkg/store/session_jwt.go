package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"footyai/internal/util"
	"footyai/pkg/domain"
)

const (
	defaultJWTIssuer   = "footyai-auth"
	defaultJWTAudience = "footyai-api"
)

var defaultJWTLeeway = 30 * time.Second

// TokenRevoker records revoked token IDs until their natural expiry.
type TokenRevoker interface {
	Revoke(jti string, until time.Time) error
	IsRevoked(jti string) (bool, error)
}

// RedisTokenRevoker keeps the revocation list in Redis.
type RedisTokenRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenRevoker builds a Redis-backed revocation list.
func NewRedisTokenRevoker(addr, password string) *RedisTokenRevoker {
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: "footyai:revoked:",
	}
}

// Revoke marks a token id revoked until the given time.
func (r *RedisTokenRevoker) Revoke(jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.prefix+jti, "1", ttl).Err()
}

// IsRevoked reports whether a token id is on the revocation list.
func (r *RedisTokenRevoker) IsRevoked(jti string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := r.client.Get(ctx, r.prefix+jti).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// JWTSessionStore issues and validates HS256 session tokens. The token
// carries only the identity; the user snapshot (and with it the message
// counter) is always re-read from the backing Store so counter updates
// require no token mutation.
type JWTSessionStore struct {
	secret   []byte
	ttl      time.Duration
	users    Store
	revoker  TokenRevoker
	issuer   string
	audience string
}

type sessionClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// NewJWTSessionStore builds a JWT-backed session store.
func NewJWTSessionStore(secret []byte, ttl time.Duration, users Store, revoker TokenRevoker) (*JWTSessionStore, error) {
	if len(secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if users == nil {
		return nil, errors.New("jwt session store requires a user store")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTSessionStore{
		secret:   secret,
		ttl:      ttl,
		users:    users,
		revoker:  revoker,
		issuer:   defaultJWTIssuer,
		audience: defaultJWTAudience,
	}, nil
}

// NewSession issues a signed token for the user.
func (s *JWTSessionStore) NewSession(user domain.User) (string, error) {
	now := time.Now().UTC()
	claims := sessionClaims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        util.NewID(),
			Subject:   user.Key(),
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-defaultJWTLeeway)),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// GetSessionUser validates the token and resolves the current user snapshot.
func (s *JWTSessionStore) GetSessionUser(token string) (domain.User, bool, error) {
	claims, ok := s.parse(token)
	if !ok {
		return domain.User{}, false, nil
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(claims.ID)
		if err != nil {
			return domain.User{}, false, err
		}
		if revoked {
			return domain.User{}, false, nil
		}
	}
	user, found, err := s.users.GetUser(claims.Subject)
	if err != nil || !found {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// SetSessionUser is a no-op: the snapshot lives in the user store and the
// token only names the identity.
func (s *JWTSessionStore) SetSessionUser(token string, user domain.User) error {
	return nil
}

// DeleteSession puts the token on the revocation list until expiry.
func (s *JWTSessionStore) DeleteSession(token string) error {
	claims, ok := s.parse(token)
	if !ok {
		return nil
	}
	if s.revoker == nil || claims.ExpiresAt == nil {
		return nil
	}
	return s.revoker.Revoke(claims.ID, claims.ExpiresAt.Time)
}

func (s *JWTSessionStore) parse(token string) (*sessionClaims, bool) {
	claims := &sessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithLeeway(defaultJWTLeeway),
	)
	if err != nil || !parsed.Valid {
		return nil, false
	}
	return claims, true
}
