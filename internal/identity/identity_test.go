package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const wallet = "0xAbC0000000000000000000000000000000000001"

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, context.Context) {
	t.Helper()
	var got context.Context
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = r.Context()
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w, got
}

func TestMiddlewareIssuesAnonCookie(t *testing.T) {
	t.Parallel()

	w, ctx := serve(t, httptest.NewRequest(http.MethodGet, "/", nil))
	id := AnonIDFromContext(ctx)
	if !isValidAnonID(id) {
		t.Fatalf("invalid anon id %q", id)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != id {
		t.Fatalf("unexpected cookies %+v", cookies)
	}

	key, owner := SessionKey(ctx, "")
	if key != id || owner != "" {
		t.Fatalf("SessionKey = %q, %q", key, owner)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	t.Parallel()

	id := NewAnonID()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
	_, ctx := serve(t, req)
	if got := AnonIDFromContext(ctx); got != id {
		t.Fatalf("anon id = %q, want %q", got, id)
	}

	forged := httptest.NewRequest(http.MethodGet, "/", nil)
	forged.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_../../etc"})
	_, ctx = serve(t, forged)
	if got := AnonIDFromContext(ctx); got == "anon_../../etc" {
		t.Fatal("invalid cookie value must be replaced")
	}
}

func TestSessionKeyPrefersWallet(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(WalletHeaderName, wallet)
	_, ctx := serve(t, req)

	key, owner := SessionKey(ctx, "")
	if key != "0xabc0000000000000000000000000000000000001" || owner != key {
		t.Fatalf("header wallet: SessionKey = %q, %q", key, owner)
	}

	other := "0x2222222222222222222222222222222222222222"
	key, owner = SessionKey(ctx, other)
	if key != other || owner != other {
		t.Fatalf("body wallet: SessionKey = %q, %q", key, owner)
	}

	key, _ = SessionKey(WithAnonID(context.Background(), "anon_cli"), "not-an-address")
	if key != "anon_cli" {
		t.Fatalf("invalid body address must fall back to the anon id, got %q", key)
	}
}
