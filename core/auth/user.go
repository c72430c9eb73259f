package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Identity is the caller resolved from a bearer token.
type Identity struct {
	Owner common.Address
	Roles []ApiRole
}

func (i *Identity) HasRole(role ApiRole) bool {
	return i != nil && slices.Contains(i.Roles, role)
}

// CanAccess reports whether the caller may read or act on records owned by owner.
func (i *Identity) CanAccess(owner common.Address) bool {
	if i == nil {
		return false
	}
	return i.Owner == owner || i.HasRole(AdminRole)
}

// IssueToken signs an HS256 token for owner that expires after ttl.
func IssueToken(secret []byte, owner common.Address, ttl time.Duration, roles ...ApiRole) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	now := time.Now()
	claims := &APIClaim{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   owner.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Roles: roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a token signed with secret and returns the caller it names.
func ParseToken(secret []byte, key string) (*Identity, error) {
	claims := &APIClaim{}
	_, err := jwt.ParseWithClaims(key, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{JwtAlg}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrorInvalidToken, err)
	}

	if claims.Subject == "" || !common.IsHexAddress(claims.Subject) {
		return nil, ErrorMissingSubject
	}

	return &Identity{
		Owner: common.HexToAddress(claims.Subject),
		Roles: claims.Roles,
	}, nil
}

// FromAuthHeader parses "Bearer <token>".
func FromAuthHeader(secret []byte, header string) (*Identity, error) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrorMalformedAuthHeader
	}
	return ParseToken(secret, strings.TrimSpace(token))
}

// VerifyJwtKeyForUser checks that key was issued for userWallet, or carries the admin role.
func VerifyJwtKeyForUser(secret []byte, key string, userWallet common.Address) (bool, error) {
	identity, err := ParseToken(secret, key)
	if err != nil {
		return false, err
	}
	if !identity.CanAccess(userWallet) {
		return false, ErrorUnAuthorized
	}
	return true, nil
}
