package auth

import (
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	Issuer = "cppay"
	JwtAlg = "HS256"

	// AdminRole grants access to reports and maintenance endpoints.
	AdminRole    = ApiRole("admin")
	ReadonlyRole = ApiRole("readonly")
)

var (
	ErrorUnAuthorized = errors.New("unauthorized")

	ErrorInvalidToken        = errors.New("invalid bearer token")
	ErrorMalformedAuthHeader = errors.New("malformed auth header")
	ErrorMissingSubject      = errors.New("missing subject claim")
)

type ApiRole string

// APIClaim is the claim set of every token this service issues. The subject is the owner's
// wallet address.
type APIClaim struct {
	jwt.RegisteredClaims
	Roles []ApiRole `json:"roles,omitempty"`
}
