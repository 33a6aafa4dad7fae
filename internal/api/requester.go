package api

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parkledger/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

var errMissingRequester = errors.New("missing requester identity")

type requesterKey struct{}

func withRequester(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, requesterKey{}, requesterID)
}

// RequesterFrom returns the requester identity attached to ctx, if any.
func RequesterFrom(ctx context.Context) string {
	v, _ := ctx.Value(requesterKey{}).(string)
	return v
}

// requesterResolver derives the requester from a bearer token when a JWT
// secret is configured and from a plain header otherwise.
type requesterResolver struct {
	secret []byte
	header string
}

func newRequesterResolver(cfg config.APIAuthConfig) *requesterResolver {
	header := strings.ToLower(strings.TrimSpace(cfg.RequesterHeader))
	if header == "" {
		header = "x-requester-id"
	}
	r := &requesterResolver{header: header}
	if cfg.JWTSecret != "" {
		r.secret = []byte(cfg.JWTSecret)
	}
	return r
}

func (r *requesterResolver) usesJWT() bool {
	return len(r.secret) > 0
}

// resolve returns "" with no error when the request carries no identity.
func (r *requesterResolver) resolve(authorization, headerValue string) (string, error) {
	if !r.usesJWT() {
		return strings.TrimSpace(headerValue), nil
	}

	raw := strings.TrimSpace(authorization)
	if raw == "" {
		return "", nil
	}
	if !strings.HasPrefix(raw, "Bearer ") {
		return "", fmt.Errorf("authorization must be a bearer token")
	}

	token, err := jwt.Parse(strings.TrimPrefix(raw, "Bearer "), func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || strings.TrimSpace(sub) == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}
