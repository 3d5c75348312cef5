package api

import "time"

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type accessTokenResponse struct {
	AccessToken          string    `json:"accessToken"`
	AccessTokenExpiresAt time.Time `json:"accessTokenExpiresAt"`
}

type sessionResponse struct {
	AccountID string    `json:"accountId"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}
