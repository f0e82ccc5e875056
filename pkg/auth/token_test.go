package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestTokenManager(t *testing.T) *TokenManager {
	t.Helper()
	tm, err := NewTokenManager(testSecret, "posalpro", time.Hour)
	require.NoError(t, err)
	return tm
}

func TestNewTokenManager_ShortSecret(t *testing.T) {
	_, err := NewTokenManager("short", "posalpro", time.Hour)
	assert.Error(t, err)
}

func TestTokenManager_IssueAndVerify(t *testing.T) {
	tm := newTestTokenManager(t)

	token, err := tm.Issue("u1", "u1@example.com", "sid-1", []string{"Sales Manager"}, []string{"proposals:read"})
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "sid-1", claims.SessionID)
	assert.Equal(t, []string{"Sales Manager"}, claims.Roles)
	assert.Equal(t, []string{"proposals:read"}, claims.Permissions)
}

func TestTokenManager_Verify_Rejects(t *testing.T) {
	tm := newTestTokenManager(t)
	valid, err := tm.Issue("u1", "", "sid-1", nil, nil)
	require.NoError(t, err)

	other, err := NewTokenManager("ffffffffffffffffffffffffffffffff", "posalpro", time.Hour)
	require.NoError(t, err)
	wrongKey, err := other.Issue("u1", "", "sid-1", nil, nil)
	require.NoError(t, err)

	otherIssuer, err := NewTokenManager(testSecret, "someone-else", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := otherIssuer.Issue("u1", "", "sid-1", nil, nil)
	require.NoError(t, err)

	noSession, err := tm.Issue("u1", "", "", nil, nil)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "u1", "sid": "s"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"garbage":      "not-a-token",
		"tampered":     valid + "x",
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no session":   noSession,
		"alg none":     none,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := tm.Verify(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestTokenManager_Verify_Expired(t *testing.T) {
	tm := newTestTokenManager(t)
	issuedAt := time.Now().Add(-2 * time.Hour)
	tm.now = func() time.Time { return issuedAt }

	token, err := tm.Issue("u1", "", "sid-1", nil, nil)
	require.NoError(t, err)

	tm.now = time.Now
	_, err = tm.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractToken(t *testing.T) {
	assert.Equal(t, "abc", ExtractToken("Bearer abc", ""))
	assert.Equal(t, "abc", ExtractToken("bearer  abc ", "cookie"))
	assert.Equal(t, "cookie", ExtractToken("Basic xyz", "cookie"))
	assert.Equal(t, "", ExtractToken("", ""))
}
