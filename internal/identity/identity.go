// Package identity derives chat session keys: a wallet address when the
// client supplies one, otherwise an anonymous per-device token.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/ledgerchat/internal/ens"
	"github.com/google/uuid"
)

const (
	AnonCookieName    = "ledgerchat_anon_id"
	WalletHeaderName  = "X-Wallet-Address"
	anonCookieMaxAge  = 30 * 24 * time.Hour
	anonSessionPrefix = "anon_"
)

type contextKey int

const (
	anonIDKey contextKey = iota
	walletKey
)

var anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// AnonIDFromContext extracts the anonymous device id from the request context.
func AnonIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(anonIDKey).(string); ok {
		return v
	}
	return ""
}

// WalletFromContext extracts the wallet address sent in the request header.
func WalletFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(walletKey).(string); ok {
		return v
	}
	return ""
}

// SessionKey picks the key for a request: the normalized wallet address
// from the body, then the header, then the anonymous id. It also returns
// the owner address, empty for anonymous sessions.
func SessionKey(ctx context.Context, userAddress string) (key, owner string) {
	if addr := ens.NormalizeAddress(userAddress); addr != "" {
		return addr, addr
	}
	if addr := WalletFromContext(ctx); addr != "" {
		return addr, addr
	}
	return AnonIDFromContext(ctx), ""
}

// NewAnonID returns a fresh anonymous device id.
func NewAnonID() string {
	return anonSessionPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) string {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id = NewAnonID()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id
}

// Middleware injects the anonymous device id and any wallet header.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), anonIDKey, getOrCreateAnonID(w, r, isDev))
			if addr := ens.NormalizeAddress(r.Header.Get(WalletHeaderName)); addr != "" {
				ctx = context.WithValue(ctx, walletKey, addr)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithAnonID returns ctx carrying id. The CLI chat uses it to key sessions
// that run without a wallet.
func WithAnonID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, anonIDKey, id)
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
