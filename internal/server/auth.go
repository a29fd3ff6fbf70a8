// Copyright (c) 2025 Seedfast
// Licensed under the MIT License. See LICENSE file in the project root for details.

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Authenticator validates HS256-family bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator returns nil when secret is empty, which disables auth.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

type claimsKey struct{}

// ClaimsFrom returns the verified token claims stored on ctx by the auth middleware.
func ClaimsFrom(ctx context.Context) (jwt.MapClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(jwt.MapClaims)
	return c, ok
}

// Verify parses token and checks its signature, expiry and issuer.
func (a *Authenticator) Verify(token string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func bearerToken(r *http.Request, allowQuery bool) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if allowQuery {
		return r.URL.Query().Get("token")
	}
	return ""
}

// authenticate guards next when auth is configured. Browsers cannot set
// headers on a WebSocket upgrade, so ws routes also accept ?token=.
func (s *Server) authenticate(next http.Handler, allowQuery bool) http.Handler {
	if s.opts.Auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r, allowQuery)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgate"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errorBody{Kind: "unauthorized", Message: "missing bearer token"}})
			return
		}
		claims, err := s.opts.Auth.Verify(token)
		if err != nil {
			s.logger.Debug("token rejected", s.logger.Args("error", err.Error()))
			w.Header().Set("WWW-Authenticate", `Bearer realm="sqlgate", error="invalid_token"`)
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": errorBody{Kind: "unauthorized", Message: "invalid token"}})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}
