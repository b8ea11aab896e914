package feedsync

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

type SessionJwt struct {
	UserId    Id
	JournalId Id
	Plan      string
}

// the session token is verified by the platform, not by the client.
// this parse is for request routing and diagnostics only.
func ParseSessionJwtUnverified(jwt string) (*SessionJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	sessionJwt := &SessionJwt{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		if userId, err := ParseId(userIdStr); err == nil {
			sessionJwt.UserId = userId
		}
	}
	if journalIdStr, ok := claims["journal_id"].(string); ok {
		if journalId, err := ParseId(journalIdStr); err == nil {
			sessionJwt.JournalId = journalId
		}
	}
	if plan, ok := claims["plan"].(string); ok {
		sessionJwt.Plan = plan
	}

	return sessionJwt, nil
}
