package exchange

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// DefaultExpiryWindow is how long a signed request stays valid, in ms.
const DefaultExpiryWindow = 30_000

type Signer struct {
	key          solana.PrivateKey
	account      string
	expiryWindow int64
}

// NewSigner loads a base58-encoded ed25519 secret key.
func NewSigner(base58Key string) (*Signer, error) {
	clean := strings.TrimSpace(base58Key)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := solana.PrivateKeyFromBase58(clean)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key solana.PrivateKey) *Signer {
	return &Signer{key: key, account: key.PublicKey().String(), expiryWindow: DefaultExpiryWindow}
}

// Account is the base58 public key that owns the trading account.
func (s *Signer) Account() string {
	return s.account
}

// Sign builds the authenticated request body for operation opType. The
// signed message is the compact, key-sorted JSON of
// {data, expiry_window, timestamp, type}; the body flattens data next to
// the auth fields.
func (s *Signer) Sign(opType string, data any, now time.Time) (map[string]any, error) {
	fields, err := toObject(data)
	if err != nil {
		return nil, err
	}
	timestamp := now.UnixMilli()
	message, err := signingMessage(opType, fields, timestamp, s.expiryWindow)
	if err != nil {
		return nil, err
	}
	sig, err := s.key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", opType, err)
	}
	payload := make(map[string]any, len(fields)+4)
	for k, v := range fields {
		payload[k] = v
	}
	payload["account"] = s.account
	payload["signature"] = sig.String()
	payload["timestamp"] = timestamp
	payload["expiry_window"] = s.expiryWindow
	return payload, nil
}

func signingMessage(opType string, data map[string]any, timestamp, expiryWindow int64) ([]byte, error) {
	envelope := map[string]any{
		"data":          data,
		"expiry_window": expiryWindow,
		"timestamp":     timestamp,
		"type":          opType,
	}
	return compactSorted(envelope)
}

// compactSorted encodes v without whitespace or HTML escaping. Map keys are
// emitted in sorted order by encoding/json at every depth.
func compactSorted(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// toObject round-trips a struct into nested maps so every level sorts.
func toObject(data any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("operation data must be an object: %w", err)
	}
	return out, nil
}
