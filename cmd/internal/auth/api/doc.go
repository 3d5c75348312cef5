// Package api exposes login, refresh-token rotation and logout over HTTP.
//
// Refresh tokens travel only in the refreshToken cookie; access tokens are
// returned in the JSON body and presented back as a bearer token. Every
// response uses the {"resultCode", "result"} envelope.
package api
