package kalshi

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signer produces the Kalshi authentication headers.
//
// Per the venue's auth docs, each request is signed with RSA-PSS over
// SHA-256 (MGF1-SHA-256, salt length = digest length) of the message
// `timestamp_ms + METHOD + path_without_query`, and authenticated with
// three headers:
//
//	KALSHI-ACCESS-KEY        — the API key id
//	KALSHI-ACCESS-SIGNATURE  — base64 of the signature
//	KALSHI-ACCESS-TIMESTAMP  — the same millisecond timestamp
//
// Query strings are stripped from the signed message but sent on the wire.
type Signer struct {
	apiKey string
	key    *rsa.PrivateKey
	now    func() time.Time
}

// NewSigner parses the PEM private key and returns a signer for the key pair.
// "\n" escape sequences in the PEM (common in .env files) are unescaped.
func NewSigner(apiKey, privateKeyPEM string) (*Signer, error) {
	key, err := loadPrivateKey(privateKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Signer{apiKey: apiKey, key: key, now: time.Now}, nil
}

// Headers signs method+path and returns the three auth headers.
func (s *Signer) Headers(method, path string) (map[string]string, error) {
	timestamp, signature, err := s.sign(method, path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KALSHI-ACCESS-KEY":       s.apiKey,
		"KALSHI-ACCESS-SIGNATURE": signature,
		"KALSHI-ACCESS-TIMESTAMP": timestamp,
	}, nil
}

// sign returns (timestamp_ms, base64 signature) for a request.
func (s *Signer) sign(method, path string) (string, string, error) {
	timestamp := strconv.FormatInt(s.now().UnixMilli(), 10)
	message := signingMessage(timestamp, method, path)

	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, s.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: sha256.Size,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", "", fmt.Errorf("sign request: %w", err)
	}
	return timestamp, base64.StdEncoding.EncodeToString(sig), nil
}

// signingMessage builds the exact byte sequence Kalshi verifies:
// timestamp, uppercased method, then the path truncated at the first '?'.
func signingMessage(timestamp, method, path string) string {
	pathWithoutQuery, _, _ := strings.Cut(path, "?")
	return timestamp + strings.ToUpper(method) + pathWithoutQuery
}

// loadPrivateKey parses an RSA private key from PEM (PKCS#1 or PKCS#8).
func loadPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(pemStr), `\n`, "\n")
	block, _ := pem.Decode([]byte(normalized))
	if block == nil {
		return nil, fmt.Errorf("private key is not valid PEM")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, want RSA", parsed)
	}
	return key, nil
}
