package feedsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func TestParseSessionJwtUnverified(t *testing.T) {
	userId := NewId()
	journalId := NewId()

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":    userId.String(),
		"journal_id": journalId.String(),
		"plan":       "pro",
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)

	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, sessionJwt.UserId, userId)
	assert.Equal(t, sessionJwt.JournalId, journalId)
	assert.Equal(t, sessionJwt.Plan, "pro")
}

func TestParseSessionJwtPartialClaims(t *testing.T) {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"plan": "free",
	})
	jwt, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)

	sessionJwt, err := ParseSessionJwtUnverified(jwt)
	assert.Equal(t, err, nil)
	assert.Equal(t, sessionJwt.UserId, Id{})
	assert.Equal(t, sessionJwt.Plan, "free")
}

func TestParseSessionJwtInvalid(t *testing.T) {
	_, err := ParseSessionJwtUnverified("not-a-jwt")
	assert.NotEqual(t, err, nil)
}
