// Package identity attributes requests to an anonymous per-browser client id
// or an explicitly named requester.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	ClientCookieName    = "coordsim_client"
	RequesterHeaderName = "X-Requested-By"
	clientCookieMaxAge  = 30 * 24 * time.Hour
)

type contextKey int

const (
	clientIDKey contextKey = iota
	requesterKey
)

var (
	clientIDPattern  = regexp.MustCompile(`^client_[a-f0-9]{32}$`)
	requesterPattern = regexp.MustCompile(`^[A-Za-z0-9._@:-]{1,64}$`)
)

// ClientIDFromContext extracts the anonymous client id from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// RequesterFromContext returns the name to attribute a new session to.
// The X-Requested-By header wins over the client id.
func RequesterFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requesterKey).(string); ok {
		return v
	}
	return ClientIDFromContext(ctx)
}

func generateClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return "client_" + hex.EncodeToString(buf), nil
}

func sanitizeRequester(name string) string {
	name = strings.TrimSpace(name)
	if !requesterPattern.MatchString(name) {
		return ""
	}
	return name
}

func setClientCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(clientCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
}

func getOrCreateClientID(w http.ResponseWriter, r *http.Request) (string, error) {
	if c, err := r.Cookie(ClientCookieName); err == nil && clientIDPattern.MatchString(c.Value) {
		setClientCookie(w, r, c.Value)
		return c.Value, nil
	}

	id, err := generateClientID()
	if err != nil {
		return "", err
	}
	setClientCookie(w, r, id)
	return id, nil
}

// Middleware injects the client id and, when present, the named requester.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, err := getOrCreateClientID(w, r)
		if err != nil {
			http.Error(w, `{"error":"failed to establish client identity"}`, http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, clientID)
		if name := sanitizeRequester(r.Header.Get(RequesterHeaderName)); name != "" {
			ctx = context.WithValue(ctx, requesterKey, name)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
