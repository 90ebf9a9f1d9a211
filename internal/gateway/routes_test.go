package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/asteroniris-dev/asteroniris/internal/config"
	"github.com/asteroniris-dev/asteroniris/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Gateway.Token = "test-token"
	return NewServer(cfg, nil, nil, nil, nil)
}

func TestPairConsumesCode(t *testing.T) {
	s := newTestServer(t)
	pairing, err := store.NewFilePairingStore(filepath.Join(t.TempDir(), "pairings.json"))
	if err != nil {
		t.Fatal(err)
	}
	s.WithPairing(pairing)
	code, _ := pairing.RequestPairing("u1", "telegram", "c1", "default")

	req := httptest.NewRequest(http.MethodPost, "/pair", nil)
	req.Header.Set("X-Pairing-Code", code)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !pairing.IsPaired("u1", "telegram") {
		t.Fatal("pairing not recorded")
	}
}

func TestPairBadCodeIsForbidden(t *testing.T) {
	s := newTestServer(t)
	pairing, _ := store.NewFilePairingStore(filepath.Join(t.TempDir(), "pairings.json"))
	s.WithPairing(pairing)

	req := httptest.NewRequest(http.MethodPost, "/pair", nil)
	req.Header.Set("X-Pairing-Code", "bogus123")
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPairLockoutReturns429(t *testing.T) {
	s := newTestServer(t)
	pairing, _ := store.NewFilePairingStore(filepath.Join(t.TempDir(), "pairings.json"))
	s.WithPairing(pairing)

	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/pair", nil)
		req.Header.Set("X-Pairing-Code", "bogus123")
		rec := httptest.NewRecorder()
		s.BuildMux().ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestWebhookRequiresBearerToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"message":"hi"}`))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`not json`))
	req.Header.Set("Authorization", "Bearer test-token")
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid JSON should be 400, got %d", rec.Code)
	}
}

func TestWhatsAppVerificationHandshake(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/whatsapp?hub.mode=subscribe&hub.verify_token=test-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "12345" {
		t.Fatalf("handshake failed: %d %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("bad verify token should be 403, got %d", rec.Code)
	}
}

func TestWhatsAppSignatureCheck(t *testing.T) {
	t.Setenv("ASTERONIRIS_WHATSAPP_APP_SECRET", "app-secret")
	s := newTestServer(t)
	body := []byte(`{"entry":[]}`)

	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", sig)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid signature rejected: %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/whatsapp", bytes.NewReader(body))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec = httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature should be 401, got %d", rec.Code)
	}
}

func TestBodyCapRejectsOversizedPayload(t *testing.T) {
	s := newTestServer(t)

	big := strings.NewReader(`{"message":"` + strings.Repeat("a", maxBodyBytes+100) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", big)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code == http.StatusOK {
		t.Fatal("oversized body must not succeed")
	}
}
