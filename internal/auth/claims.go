package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields the backend puts into its access token.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"id"`
}

var parser = jwt.NewParser()

// DecodeClaims parses token without verifying its signature. The client
// has no key; it only needs exp, sub and id.
func DecodeClaims(token string) (*Claims, error) {
	var c Claims
	if _, _, err := parser.ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &c, nil
}

// DecodeExpiry returns the exp claim of token.
func DecodeExpiry(token string) (time.Time, error) {
	c, err := DecodeClaims(token)
	if err != nil {
		return time.Time{}, err
	}
	if c.ExpiresAt == nil {
		return time.Time{}, errors.New("decode token: missing exp")
	}
	return c.ExpiresAt.Time, nil
}
