package token

import (
	"math"
	"time"
)

// Response is the OAuth2 bearer token response returned to clients.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// NewBearerResponse builds the bearer response for an issued token pair.
// ExpiresIn is the ceiling-rounded number of seconds until the access token
// expires.
func NewBearerResponse(accessToken string, accessClaims *AccessTokenClaims, refreshToken string) *Response {
	remaining := time.Until(accessClaims.ExpiresAt.Time)

	return &Response{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(math.Ceil(remaining.Seconds())),
		Scope:        accessClaims.Scope,
		RefreshToken: refreshToken,
	}
}
