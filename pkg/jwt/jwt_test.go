package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJWTManager_DefaultIssuer(t *testing.T) {
	manager := NewJWTManager("test-secret-key-for-testing-purposes", "", 15*time.Minute)

	assert.Equal(t, DefaultIssuer, manager.issuer)
	assert.Equal(t, 15*time.Minute, manager.tokenDuration)
}

func TestValidateToken_ValidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "", time.Hour)
	userID := uuid.New()

	token, err := manager.GenerateSessionToken(userID, "alice", "Alice")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "Alice", claims.DisplayName)
	assert.Equal(t, DefaultIssuer, claims.Issuer)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.True(t, claims.ExpiresAt.After(claims.IssuedAt.Time))
}

func TestValidateToken_ExpiredToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "", time.Nanosecond)

	token, err := manager.GenerateSessionToken(uuid.New(), "alice", "")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	claims, err := manager.ValidateToken(token)
	assert.Error(t, err)
	assert.Nil(t, claims)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateToken_InvalidToken(t *testing.T) {
	manager := NewJWTManager("test-secret", "", time.Hour)

	claims, err := manager.ValidateToken("invalid.token.here")

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongSecret(t *testing.T) {
	issuer := NewJWTManager("secret-1", "", time.Hour)
	token, err := issuer.GenerateSessionToken(uuid.New(), "alice", "")
	require.NoError(t, err)

	claims, err := NewJWTManager("secret-2", "", time.Hour).ValidateToken(token)

	assert.Error(t, err)
	assert.Nil(t, claims)
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	token, err := NewJWTManager("shared", "someone-else", time.Hour).GenerateSessionToken(uuid.New(), "alice", "")
	require.NoError(t, err)

	_, err = NewJWTManager("shared", "", time.Hour).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_MissingUserID(t *testing.T) {
	manager := NewJWTManager("test-secret", "", time.Hour)
	token, err := manager.GenerateSessionToken(uuid.Nil, "ghost", "")
	require.NoError(t, err)

	_, err = manager.ValidateToken(token)
	assert.Error(t, err)
}
