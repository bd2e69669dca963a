// Package auth signs feed websocket handshakes with RSA-PSS.
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
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Header names sent with a signed handshake.
const (
	HeaderKey       = "KALSHI-ACCESS-KEY"
	HeaderTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderSignature = "KALSHI-ACCESS-SIGNATURE"
)

// DefaultWebSocketPath is signed when the feed URL has no path.
const DefaultWebSocketPath = "/trade-api/ws/v2"

// Errors
var (
	ErrMissingKeyID   = errors.New("API key ID is required")
	ErrMissingKeyPath = errors.New("private key path is required")
	ErrNotRSA         = errors.New("key is not an RSA private key")
)

// Credentials identify the feed user and sign handshakes.
type Credentials struct {
	KeyID      string
	PrivateKey *rsa.PrivateKey

	now func() time.Time
}

// NewCredentials wraps an already loaded key.
func NewCredentials(keyID string, key *rsa.PrivateKey) *Credentials {
	return &Credentials{KeyID: keyID, PrivateKey: key}
}

// LoadCredentials reads the private key at privateKeyPath.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	if keyID == "" {
		return nil, ErrMissingKeyID
	}
	if privateKeyPath == "" {
		return nil, ErrMissingKeyPath
	}

	key, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return NewCredentials(keyID, key), nil
}

// LoadPrivateKey loads an RSA private key from a PKCS#8 or PKCS#1 PEM file.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey decodes a PEM encoded RSA private key.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSA
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// Header returns signed headers for a request.
func (c *Credentials) Header(method, path string) (http.Header, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	ts := now().UnixMilli()

	sig, err := c.sign(ts, method, path)
	if err != nil {
		return nil, err
	}

	h := http.Header{}
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	h.Set(HeaderSignature, sig)
	return h, nil
}

// WebSocketHeader returns signed headers for a websocket handshake to rawURL.
func (c *Credentials) WebSocketHeader(rawURL string) (http.Header, error) {
	path, err := SigningPath(rawURL)
	if err != nil {
		return nil, err
	}
	return c.Header(http.MethodGet, path)
}

// SigningPath returns the path component of rawURL that is signed.
func SigningPath(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	if u.Path == "" {
		return DefaultWebSocketPath, nil
	}
	return u.Path, nil
}

// sign signs timestamp_ms + method + path.
func (c *Credentials) sign(ts int64, method, path string) (string, error) {
	if c.PrivateKey == nil {
		return "", ErrNotRSA
	}
	hashed := sha256.Sum256([]byte(signingMessage(ts, method, path)))

	sig, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, hashed[:],
		&rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func signingMessage(ts int64, method, path string) string {
	return strconv.FormatInt(ts, 10) + method + path
}
