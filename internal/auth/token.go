package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BarnabyWild/logistack-sub000/internal/models"
)

const signatureSize = ed25519.SignatureSize

// Claims is the CBOR payload of a credential.
type Claims struct {
	Subject   string      `cbor:"1,keyasint"`
	Role      models.Role `cbor:"2,keyasint"`
	Audience  string      `cbor:"3,keyasint"`
	ID        string      `cbor:"4,keyasint"`
	IssuedAt  int64       `cbor:"5,keyasint"`
	ExpiresAt int64       `cbor:"6,keyasint"`
}

var (
	ErrMalformed        = errors.New("credential is malformed")
	ErrInvalidSignature = errors.New("credential signature is invalid")
	ErrExpired          = errors.New("credential has expired")
	ErrAudienceMismatch = errors.New("credential audience does not match")
	ErrUnknownRole      = errors.New("credential role is not recognized")
)

var encMode, _ = cbor.CanonicalEncOptions().EncMode()

func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, errors.Wrap(err, "generate ed25519 keypair")
	}
	return pub, priv, nil
}

func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode public key")
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key has %d bytes, want %d", len(b), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(b), nil
}

func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "decode private key")
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has %d bytes, want %d", len(b), ed25519.PrivateKeySize)
	}
	return ed25519.PrivateKey(b), nil
}

// Mint issues a credential for subject/role valid for ttl starting at now.
func Mint(priv ed25519.PrivateKey, subject string, role models.Role, audience string, ttl time.Duration, now time.Time) (string, error) {
	c := Claims{
		Subject:   subject,
		Role:      role,
		Audience:  audience,
		ID:        uuid.NewString(),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	payload, err := encMode.Marshal(&c)
	if err != nil {
		return "", errors.Wrap(err, "encode claims")
	}
	sig := ed25519.Sign(priv, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], sig)
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// VerifyAt checks signature, expiry and audience of credential at now.
// An empty audience disables the audience check.
func VerifyAt(pub ed25519.PublicKey, credential, audience string, now time.Time) (*Claims, error) {
	raw, err := base64.RawURLEncoding.DecodeString(credential)
	if err != nil || len(raw) <= signatureSize {
		return nil, ErrMalformed
	}
	split := len(raw) - signatureSize
	payload, sig := raw[:split], raw[split:]
	if !ed25519.Verify(pub, payload, sig) {
		return nil, ErrInvalidSignature
	}

	var c Claims
	if err := cbor.Unmarshal(payload, &c); err != nil {
		return nil, ErrMalformed
	}
	if c.Subject == "" {
		return nil, ErrMalformed
	}
	if now.Unix() >= c.ExpiresAt {
		return nil, ErrExpired
	}
	if audience != "" && c.Audience != audience {
		return nil, ErrAudienceMismatch
	}
	if !c.Role.Valid() {
		return nil, ErrUnknownRole
	}
	return &c, nil
}
