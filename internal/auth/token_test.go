package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 0)

func newVerifier(t *testing.T, secret string, leeway time.Duration) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(secret, leeway)
	require.NoError(t, err)
	return verifier.WithClock(func() time.Time { return fixedNow })
}

func TestIssueThenVerify(t *testing.T) {
	verifier := newVerifier(t, "secret", time.Second)
	token, err := verifier.Issue("student-7", 30*time.Second)
	require.NoError(t, err)

	claims, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "student-7", claims.Subject)
	assert.Equal(t, fixedNow.Unix(), claims.IssuedAt)
	assert.Equal(t, fixedNow.Add(30*time.Second).Unix(), claims.ExpiresAt)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	verifier := newVerifier(t, "secret", 0)
	token, err := verifier.Issue("student-7", time.Second)
	require.NoError(t, err)

	verifier.WithClock(func() time.Time { return fixedNow.Add(time.Minute) })
	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	other := newVerifier(t, "other", 0)
	token, err := other.Issue("student-7", time.Minute)
	require.NoError(t, err)

	_, err = newVerifier(t, "secret", 0).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsUnexpectedAlgorithm(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(`{"sub":"x","exp":%d}`, fixedNow.Add(time.Minute).Unix())))
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(header + "." + payload))
	token := header + "." + payload + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	_, err := newVerifier(t, "secret", 0).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedToken(t *testing.T) {
	verifier := newVerifier(t, "secret", 0)
	for _, token := range []string{"", "abc", "a.b", "a.b.c.d"} {
		_, err := verifier.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestAuthenticateReadsQueryThenHeader(t *testing.T) {
	verifier := newVerifier(t, "secret", 0)
	token, err := verifier.Issue("student-9", time.Minute)
	require.NoError(t, err)

	byQuery := httptest.NewRequest(http.MethodGet, "/ws?"+QueryParam+"="+token, nil)
	subject, err := verifier.Authenticate(byQuery)
	require.NoError(t, err)
	assert.Equal(t, "student-9", subject)

	byHeader := httptest.NewRequest(http.MethodGet, "/ws", nil)
	byHeader.Header.Set(Header, token)
	subject, err = verifier.Authenticate(byHeader)
	require.NoError(t, err)
	assert.Equal(t, "student-9", subject)

	_, err = verifier.Authenticate(httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ", 0)
	assert.Error(t, err)
}
