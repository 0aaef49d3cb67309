package usermanager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Flow names the protocol exchange a state was issued for.
type Flow string

const (
	FlowRedirect Flow = "redirect"
	FlowPopup    Flow = "popup"
	FlowSignout  Flow = "signout"
)

// FlowState is round tripped through the identity provider in the state
// parameter.
type FlowState struct {
	ID           string         `json:"id"`
	Flow         Flow           `json:"f"`
	Nonce        string         `json:"n,omitempty"`
	CodeVerifier string         `json:"cv,omitempty"`
	RedirectURI  string         `json:"r,omitempty"`
	SkipUserInfo bool           `json:"su,omitempty"`
	Data         map[string]any `json:"d,omitempty"`
	IssuedAt     int64          `json:"iat"`
	ExpiresAt    int64          `json:"exp"`
}

// StateCodec seals FlowState values with AES-GCM and signs them with
// HMAC-SHA256.
type StateCodec struct {
	encryptionKey []byte
	hmacKey       []byte
	ttl           time.Duration
	now           func() time.Time
}

// DefaultStateTTL bounds how long a sign in may take.
const DefaultStateTTL = 10 * time.Minute

// NewStateCodec creates a codec. encryptionKey must be 16, 24 or 32 bytes.
func NewStateCodec(encryptionKey, hmacKey []byte, ttl time.Duration) (*StateCodec, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("state encryption key must be 16, 24 or 32 bytes, got %d", len(encryptionKey))
	}
	if len(hmacKey) == 0 {
		return nil, fmt.Errorf("state hmac key is required")
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{
		encryptionKey: encryptionKey,
		hmacKey:       hmacKey,
		ttl:           ttl,
		now:           time.Now,
	}, nil
}

// NewRandomStateCodec creates a codec with process local random keys.
// States it issues cannot be read by other processes.
func NewRandomStateCodec(ttl time.Duration) (*StateCodec, error) {
	enc := make([]byte, 32)
	mac := make([]byte, 32)
	if _, err := rand.Read(enc); err != nil {
		return nil, fmt.Errorf("generate state key: %w", err)
	}
	if _, err := rand.Read(mac); err != nil {
		return nil, fmt.Errorf("generate state key: %w", err)
	}
	return NewStateCodec(enc, mac, ttl)
}

// Encode fills in ID, IssuedAt and ExpiresAt when missing, then seals st.
func (c *StateCodec) Encode(st *FlowState) (string, error) {
	if st == nil {
		return "", ErrInvalidState
	}

	now := c.now()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.IssuedAt == 0 {
		st.IssuedAt = now.Unix()
	}
	if st.ExpiresAt == 0 {
		st.ExpiresAt = now.Add(c.ttl).Unix()
	}

	plaintext, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal state: %w", err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := append(c.sign(sealed), sealed...)

	return base64.RawURLEncoding.EncodeToString(out), nil
}

// Decode verifies, opens and checks the expiry of token.
func (c *StateCodec) Decode(token string) (*FlowState, error) {
	if token == "" {
		return nil, ErrInvalidState
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(data) < sha256.Size {
		return nil, ErrInvalidState
	}

	signature, sealed := data[:sha256.Size], data[sha256.Size:]
	if !hmac.Equal(signature, c.sign(sealed)) {
		return nil, ErrInvalidState
	}

	gcm, err := c.gcm()
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, ErrInvalidState
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidState
	}

	var st FlowState
	if err := json.Unmarshal(plaintext, &st); err != nil {
		return nil, ErrInvalidState
	}

	if c.now().Unix() > st.ExpiresAt {
		return nil, ErrStateExpired
	}
	return &st, nil
}

func (c *StateCodec) sign(b []byte) []byte {
	mac := hmac.New(sha256.New, c.hmacKey)
	mac.Write(b)
	return mac.Sum(nil)
}

func (c *StateCodec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

func randomToken(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
