package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestCredentials_Header(t *testing.T) {
	key := testKey(t)
	fixed := time.UnixMilli(1700000000123)
	creds := NewCredentials("test-key-id", key)
	creds.now = func() time.Time { return fixed }

	h, err := creds.Header("GET", "/trade-api/ws/v2")
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}

	if got := h.Get(HeaderKey); got != "test-key-id" {
		t.Errorf("%s = %q, want %q", HeaderKey, got, "test-key-id")
	}
	if got := h.Get(HeaderTimestamp); got != "1700000000123" {
		t.Errorf("%s = %q, want %q", HeaderTimestamp, got, "1700000000123")
	}

	sig, err := base64.StdEncoding.DecodeString(h.Get(HeaderSignature))
	if err != nil {
		t.Fatalf("signature is not base64: %v", err)
	}
	hashed := sha256.Sum256([]byte("1700000000123GET/trade-api/ws/v2"))
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}
	if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, hashed[:], sig, opts); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestCredentials_WebSocketHeader(t *testing.T) {
	creds := NewCredentials("ws-key", testKey(t))

	h, err := creds.WebSocketHeader("wss://example.com/trade-api/ws/v2")
	if err != nil {
		t.Fatalf("WebSocketHeader() error = %v", err)
	}
	if h.Get(HeaderSignature) == "" {
		t.Error("signature header is empty")
	}
}

func TestCredentials_NoKey(t *testing.T) {
	creds := &Credentials{KeyID: "x"}
	if _, err := creds.Header("GET", "/"); !errors.Is(err, ErrNotRSA) {
		t.Errorf("Header() error = %v, want %v", err, ErrNotRSA)
	}
}

func TestSigningPath(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"wss://api.example.com/trade-api/ws/v2", "/trade-api/ws/v2"},
		{"ws://127.0.0.1:8080/feed", "/feed"},
		{"ws://127.0.0.1:8080", DefaultWebSocketPath},
	}
	for _, tt := range tests {
		got, err := SigningPath(tt.url)
		if err != nil {
			t.Errorf("SigningPath(%q) error = %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SigningPath(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestLoadCredentials(t *testing.T) {
	key := testKey(t)
	dir := t.TempDir()

	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal pkcs8: %v", err)
	}
	pkcs8Path := filepath.Join(dir, "pkcs8.pem")
	writePEM(t, pkcs8Path, "PRIVATE KEY", pkcs8)

	pkcs1Path := filepath.Join(dir, "pkcs1.pem")
	writePEM(t, pkcs1Path, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key))

	badPath := filepath.Join(dir, "bad.pem")
	if err := os.WriteFile(badPath, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		keyID   string
		path    string
		wantErr error
		anyErr  bool
	}{
		{"pkcs8", "id", pkcs8Path, nil, false},
		{"pkcs1", "id", pkcs1Path, nil, false},
		{"missing key id", "", pkcs8Path, ErrMissingKeyID, true},
		{"missing path", "id", "", ErrMissingKeyPath, true},
		{"bad pem", "id", badPath, nil, true},
		{"no file", "id", filepath.Join(dir, "nope.pem"), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.keyID, tt.path)
			if tt.anyErr {
				if err == nil {
					t.Fatal("LoadCredentials() error = nil, want error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("LoadCredentials() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials() error = %v", err)
			}
			if creds.PrivateKey.N.Cmp(key.N) != 0 {
				t.Error("loaded key does not match")
			}
		})
	}
}

func writePEM(t *testing.T, path, typ string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
