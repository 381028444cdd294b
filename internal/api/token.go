package api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	loginTokenFields      = []string{"token", "auth_token", "jwt"}
	changeUnitTokenFields = []string{"token", "access_token", "jwt", "auth_token"}

	errMissingToken = errors.New("response missing token")
)

// expirySkew makes a JWT count as expired slightly before its exp claim.
const expirySkew = 30 * time.Second

// pickToken decodes body as a JSON object and returns the first non-empty
// string among fields, in order.
func pickToken(body []byte, fields []string) (string, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return "", err
	}
	for _, field := range fields {
		if s, ok := data[field].(string); ok && s != "" {
			return s, nil
		}
	}
	return "", errMissingToken
}

// tokenExpiry reads the exp claim of a JWT without verifying its signature.
// Opaque tokens report a zero time.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
