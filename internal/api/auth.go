package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const (
	UserIDHeader   = "X-User-ID"
	UserRoleHeader = "X-User-Role"
)

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (appointment.Actor, error)
}

// HeaderAuthenticator trusts identity headers set by the gateway in front of the service.
type HeaderAuthenticator struct{}

func (HeaderAuthenticator) Authenticate(r *http.Request) (appointment.Actor, error) {
	rawID := strings.TrimSpace(r.Header.Get(UserIDHeader))
	if rawID == "" {
		return appointment.Actor{}, fmt.Errorf("%w: missing %s header", ErrUnauthenticated, UserIDHeader)
	}
	return parseActor(rawID, r.Header.Get(UserRoleHeader))
}

// JWTAuthenticator verifies HS256 bearer tokens. The subject is the user id.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func (a *JWTAuthenticator) Authenticate(r *http.Request) (appointment.Actor, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	token, ok := strings.CutPrefix(raw, "Bearer ")
	if !ok || token == "" {
		return appointment.Actor{}, fmt.Errorf("%w: missing bearer token", ErrUnauthenticated)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return parseActor(claims.Subject, claims.Role)
}

// SignToken issues a token the JWTAuthenticator accepts. Used by tooling and tests.
func (a *JWTAuthenticator) SignToken(actor appointment.Actor, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.ID.String()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(actor.Role), RegisteredClaims: claims})
	return tok.SignedString(a.secret)
}

func parseActor(rawID, rawRole string) (appointment.Actor, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawID))
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: user id must be a valid UUID", ErrUnauthenticated)
	}
	role, err := appointment.ParseRole(strings.ToLower(strings.TrimSpace(rawRole)))
	if err != nil {
		return appointment.Actor{}, fmt.Errorf("%w: unknown role %q", ErrUnauthenticated, rawRole)
	}
	return appointment.Actor{ID: id, Role: role}, nil
}

type actorKey struct{}

func withActor(ctx context.Context, actor appointment.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by IdentityMiddleware.
func ActorFromContext(ctx context.Context) (appointment.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(appointment.Actor)
	return actor, ok
}
