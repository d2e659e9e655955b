package pacifica

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// Signer holds the ed25519 keypair used for signed endpoints. The key is the
// base58 Solana form: either a 32-byte seed or a 64-byte expanded key.
type Signer struct {
	priv   ed25519.PrivateKey
	pubkey string
}

func NewSigner(base58Key string) (*Signer, error) {
	clean := strings.TrimSpace(base58Key)
	if clean == "" {
		return nil, errors.New("private key is required")
	}
	raw, err := base58.Decode(clean)
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("private key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{priv: priv, pubkey: base58.Encode(pub)}, nil
}

func (s *Signer) PublicKey() string {
	return s.pubkey
}

// Sign builds the canonical message for an operation and returns the base58
// signature with the timestamp it covers. The server recomputes the message
// as compact JSON with recursively sorted keys, which is exactly what
// encoding/json produces for map values.
func (s *Signer) Sign(opType string, data map[string]any, expiryWindow int64) (sig string, timestamp int64, err error) {
	timestamp = time.Now().UnixMilli()
	message := map[string]any{
		"type":          opType,
		"timestamp":     timestamp,
		"expiry_window": expiryWindow,
		"data":          data,
	}
	payload, err := json.Marshal(message)
	if err != nil {
		return "", 0, err
	}
	raw := ed25519.Sign(s.priv, payload)
	return base58.Encode(raw), timestamp, nil
}

// Verify checks a signature produced by Sign. Used in tests.
func Verify(pubkeyB58, sig string, message []byte) bool {
	pub, err := base58.Decode(pubkeyB58)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	raw, err := base58.Decode(sig)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, raw)
}

// clientOrderID derives a stable UUID-shaped id from an arbitrary client id
// so replayed submissions are deduplicated server side.
func clientOrderID(clientID string) string {
	if clientID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(clientID))
	return fmt.Sprintf("%x-%x-%x-%x-%x", sum[0:4], sum[4:6], sum[6:8], sum[8:10], sum[10:16])
}
