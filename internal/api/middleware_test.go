package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func jwksServer(t *testing.T, fetches *int32, kids ...string) *httptest.Server {
	t.Helper()
	n := base64.RawURLEncoding.EncodeToString([]byte("test-modulus-bytes-0123456789"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(fetches, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"keys":[`)
		for i, kid := range kids {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"kid":%q,"kty":"RSA","use":"sig","n":%q,"e":"AQAB"}`, kid, n)
		}
		fmt.Fprint(w, `]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGetPublicKeyFromJWKS_CachesKeySet(t *testing.T) {
	var fetches int32
	srv := jwksServer(t, &fetches, "key-1", "key-2")

	first, err := getPublicKeyFromJWKS(srv.URL, "key-1")
	if err != nil {
		t.Fatalf("first resolution returned error: %v", err)
	}
	second, err := getPublicKeyFromJWKS(srv.URL, "key-2")
	if err != nil {
		t.Fatalf("second resolution returned error: %v", err)
	}
	if first == nil || second == nil {
		t.Fatal("expected parsed keys")
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Fatalf("expected a single JWKS fetch, got %d", got)
	}
}

func TestGetPublicKeyFromJWKS_UnknownKidRefetches(t *testing.T) {
	var fetches int32
	srv := jwksServer(t, &fetches, "key-1")

	if _, err := getPublicKeyFromJWKS(srv.URL, "key-1"); err != nil {
		t.Fatalf("resolution returned error: %v", err)
	}
	if _, err := getPublicKeyFromJWKS(srv.URL, "rotated-key"); err == nil {
		t.Fatal("expected an error for a kid absent from the key set")
	}
	// A kid miss bypasses the fresh cache entry and refetches.
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Fatalf("expected 2 JWKS fetches, got %d", got)
	}
}
