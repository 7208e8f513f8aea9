package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Claims is the wallet state carried by a resumption token.
type Claims struct {
	Address   solana.PublicKey
	Key       solana.PrivateKey
	CreatedAt time.Time
	ExpiresAt time.Time
}

type tokenPayload struct {
	Address   string `json:"addr"`
	Key       string `json:"key"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

// TokenCodec mints and verifies resumption tokens of the form
// base64url(payload) "." base64url(HMAC-SHA256(secret, payload)).
type TokenCodec struct {
	secret []byte
	ttl    time.Duration

	// Now is overridable in tests.
	Now func() time.Time
}

func NewTokenCodec(secret []byte, ttl time.Duration) *TokenCodec {
	return &TokenCodec{secret: secret, ttl: ttl, Now: time.Now}
}

// TTL is the validity window of minted tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Mint encodes w into a token that expires ttl after the wallet was created.
func (c *TokenCodec) Mint(w *Wallet) (string, time.Time, error) {
	key := w.secret()
	if key == nil {
		return "", time.Time{}, ErrWalletDestroyed
	}
	expiresAt := w.CreatedAt.Add(c.ttl)
	payload, err := json.Marshal(tokenPayload{
		Address:   w.Address.String(),
		Key:       key.String(),
		CreatedAt: w.CreatedAt.UnixMilli(),
		ExpiresAt: expiresAt.UnixMilli(),
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token: %w", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(payload) + "." + enc.EncodeToString(c.sign(payload)), expiresAt, nil
}

// Decode authenticates the token before looking at its contents, so a forged
// token is reported as invalid even if its embedded expiry has passed.
func (c *TokenCodec) Decode(token string) (*Claims, error) {
	body, tag, ok := strings.Cut(token, ".")
	if !ok || body == "" || tag == "" {
		return nil, ErrTokenInvalid
	}
	enc := base64.RawURLEncoding
	payload, err := enc.DecodeString(body)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	mac, err := enc.DecodeString(tag)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal(mac, c.sign(payload)) {
		return nil, ErrTokenInvalid
	}

	var p tokenPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, ErrTokenInvalid
	}
	addr, err := solana.PublicKeyFromBase58(p.Address)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	key, err := solana.PrivateKeyFromBase58(p.Key)
	if err != nil || !key.PublicKey().Equals(addr) {
		return nil, ErrTokenInvalid
	}

	expiresAt := time.UnixMilli(p.ExpiresAt)
	if c.Now().After(expiresAt) {
		return nil, ErrTokenExpired
	}
	return &Claims{
		Address:   addr,
		Key:       key,
		CreatedAt: time.UnixMilli(p.CreatedAt),
		ExpiresAt: expiresAt,
	}, nil
}

func (c *TokenCodec) sign(payload []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(payload)
	return h.Sum(nil)
}
