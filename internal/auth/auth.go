package auth

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/OrderDesk/internal/models"
	"github.com/BearBump/OrderDesk/internal/outcome"
)

const DefaultTTL = 12 * time.Hour

// Claims is the session carried in a bearer token.
type Claims struct {
	TenantID *int64  `json:"tenant_id,omitempty"`
	Tenants  []int64 `json:"tenants,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func New(secret string) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

func (a *Authenticator) WithTTL(ttl time.Duration) *Authenticator {
	if ttl > 0 {
		a.ttl = ttl
	}
	return a
}

// Issue signs a session token for a back-office user.
func (a *Authenticator) Issue(userID int64, tenantID *int64, tenants []int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("user id must be positive")
	}
	now := a.now()
	claims := Claims{
		TenantID: tenantID,
		Tenants:  tenants,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return s, nil
}

// Actor validates a token and returns the session it carries.
func (a *Authenticator) Actor(token string) (models.Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return models.Actor{}, outcome.New(outcome.Unauthorized, "invalid or expired token")
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return models.Actor{}, outcome.New(outcome.Unauthorized, "token subject is not a user id")
	}
	return models.NewActor(userID, claims.TenantID, claims.Tenants), nil
}

// ActorFromHeader parses "Bearer <token>". An empty header yields an
// unauthenticated actor and no error.
func (a *Authenticator) ActorFromHeader(header string) (models.Actor, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return models.Actor{}, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return models.Actor{}, outcome.New(outcome.Unauthorized, "authorization header must be 'Bearer <token>'")
	}
	return a.Actor(strings.TrimSpace(parts[1]))
}

type actorKey struct{}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the session actor, or an unauthenticated one.
func FromContext(ctx context.Context) models.Actor {
	a, _ := ctx.Value(actorKey{}).(models.Actor)
	return a
}
