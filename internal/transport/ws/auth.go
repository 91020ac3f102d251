package ws

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "nationcraft"

var (
	ErrTokenRequired = errors.New("identity token is required")
	ErrTokenInvalid  = errors.New("identity token is invalid")
)

// Authenticator turns a HELLO into an identity. With an empty secret it runs in
// dev mode: the client-supplied identity is trusted, or a fresh one is minted.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(strings.TrimSpace(secret)), now: time.Now}
}

func (a *Authenticator) DevMode() bool { return a == nil || len(a.secret) == 0 }

// Identify resolves the session identity from a token or, in dev mode, the claimed id.
func (a *Authenticator) Identify(token, claimed string) (uuid.UUID, error) {
	if a.DevMode() {
		if claimed == "" {
			return uuid.New(), nil
		}
		id, err := uuid.Parse(claimed)
		if err != nil || id == uuid.Nil {
			return uuid.Nil, fmt.Errorf("%w: bad identity %q", ErrTokenInvalid, claimed)
		}
		return id, nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, ErrTokenRequired
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: subject %q", ErrTokenInvalid, claims.Subject)
	}
	return id, nil
}

// IssueToken signs an identity token; used by the admin tool and tests.
func (a *Authenticator) IssueToken(identity uuid.UUID, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("no auth secret configured")
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   identity.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
