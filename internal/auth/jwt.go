// Package auth verifies the HS256 bearer tokens issued by the main school
// backend. Token issuance lives there, not here.
package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"schoolchat/pkg/types"
)

var (
	ErrEmptyToken   = errors.New("token is empty")
	ErrInvalidToken = errors.New("invalid token")
	ErrEmptySecret  = errors.New("jwt secret is empty")
)

// Claims extends the registered claims with the user's role.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

// Identity is the caller resolved from a valid token.
type Identity struct {
	UserID string
	Role   string
}

// Verifier checks signatures and, when configured, the issuer.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret, issuer string) (*Verifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}
	return &Verifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses a token, with or without the "Bearer " prefix.
func (v *Verifier) Verify(token string) (Identity, error) {
	token = stripBearer(token)
	if token == "" {
		return Identity{}, ErrEmptyToken
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, errors.Wrap(ErrInvalidToken, err.Error())
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if !types.IsValidID(claims.Subject) {
		return Identity{}, errors.Wrap(ErrInvalidToken, "bad subject")
	}
	return Identity{UserID: claims.Subject, Role: claims.Role}, nil
}

// VerifyToken satisfies the socket handler's token verifier.
func (v *Verifier) VerifyToken(token string) (string, error) {
	id, err := v.Verify(token)
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}

func stripBearer(header string) string {
	fields := strings.Fields(header)
	switch {
	case len(fields) == 0:
		return ""
	case strings.EqualFold(fields[0], "Bearer"):
		if len(fields) == 2 {
			return fields[1]
		}
		return ""
	case len(fields) == 1:
		return fields[0]
	}
	return ""
}
