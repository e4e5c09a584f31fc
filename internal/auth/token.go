// Package auth verifies the signed tokens websocket clients present when the simulator
// runs with authentication enabled.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QueryParam and Header name where clients may present their token.
const (
	QueryParam = "auth_token"
	Header     = "X-Auth-Token"
)

var (
	// ErrInvalidToken indicates the token failed signature checks or had malformed structure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken signals that the token's expiry is in the past.
	ErrExpiredToken = errors.New("token expired")
	// ErrMissingToken is returned when a request carries no token at all.
	ErrMissingToken = errors.New("missing auth token")
)

// Claims is the payload of a simulator access token. Subject identifies the student or
// tool driving the robot.
type Claims struct {
	Subject   string `json:"sub"`
	Audience  string `json:"aud,omitempty"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

type tokenHeader struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ"`
}

// Verifier signs and validates compact HS256 tokens.
type Verifier struct {
	secret []byte
	now    func() time.Time
	leeway time.Duration
}

// NewVerifier constructs a verifier for secret tolerating leeway of clock skew.
func NewVerifier(secret string, leeway time.Duration) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("hmac secret must not be empty")
	}
	if leeway < 0 {
		leeway = 0
	}
	return &Verifier{secret: []byte(secret), now: time.Now, leeway: leeway}, nil
}

// WithClock overrides the verifier clock.
func (v *Verifier) WithClock(clock func() time.Time) *Verifier {
	if clock != nil {
		v.now = clock
	}
	return v
}

// Issue mints a token for subject valid for ttl.
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("token subject must not be empty")
	}
	if ttl <= 0 {
		return "", errors.New("token ttl must be positive")
	}
	now := v.now()
	header, err := json.Marshal(tokenHeader{Algorithm: "HS256", Type: "JWT"})
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(Claims{Subject: subject, IssuedAt: now.Unix(), ExpiresAt: now.Add(ttl).Unix()})
	if err != nil {
		return "", err
	}
	signed := encodeSegment(header) + "." + encodeSegment(payload)
	return signed + "." + encodeSegment(v.sign([]byte(signed))), nil
}

// Verify checks the signature and expiry of token and returns its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	if v == nil || len(v.secret) == 0 {
		return nil, errors.New("verifier not initialised")
	}
	parts := strings.Split(strings.TrimSpace(token), ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}

	//1.- Only HS256 is accepted; anything else is rejected before touching the signature.
	var header tokenHeader
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, ErrInvalidToken
	}
	if header.Algorithm != "HS256" {
		return nil, fmt.Errorf("%w: unexpected algorithm %q", ErrInvalidToken, header.Algorithm)
	}

	//2.- Compare signatures in constant time.
	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil || !hmac.Equal(signature, v.sign([]byte(parts[0]+"."+parts[1]))) {
		return nil, ErrInvalidToken
	}

	var claims Claims
	if err := decodeJSONSegment(parts[1], &claims); err != nil {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.ExpiresAt <= 0 {
		return nil, ErrInvalidToken
	}
	if time.Unix(claims.ExpiresAt, 0).Add(v.leeway).Before(v.now()) {
		return nil, ErrExpiredToken
	}
	return &claims, nil
}

// Authenticate extracts the token from r and returns the verified subject.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	token := strings.TrimSpace(r.URL.Query().Get(QueryParam))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(Header))
	}
	if token == "" {
		return "", ErrMissingToken
	}
	claims, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (v *Verifier) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

func encodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeJSONSegment(segment string, out any) error {
	data, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
