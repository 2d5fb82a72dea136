package credentials

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/photoimport/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the validity window carried by a token.
type Claims struct {
	IssuedAt time.Time
	TTL      time.Duration
}

// ExpiresAt is IssuedAt + TTL.
func (c Claims) ExpiresAt() time.Time {
	return c.IssuedAt.Add(c.TTL)
}

// millis accepts a millisecond count encoded either as a JSON number or a string.
type millis int64

func (m *millis) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*m = millis(value)
	case string:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("millis: %w", err)
		}
		*m = millis(n)
	case nil:
		*m = 0
	default:
		return fmt.Errorf("millis: unexpected %T", v)
	}
	return nil
}

type tokenClaims struct {
	jwt.RegisteredClaims
	CreatedAt millis `json:"created_at"`
	ExpiresIn millis `json:"expires_in"`
}

// ParseClaims decodes the validity window of token without verifying its
// signature; the identity provider is trusted and only expiry matters here.
// created_at/expires_in (milliseconds) take precedence over iat/exp.
func ParseClaims(token string) (Claims, error) {
	if token == "" {
		return Claims{}, common.ErrInvalidToken
	}

	tc := &tokenClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, tc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	var c Claims
	switch {
	case tc.CreatedAt > 0:
		c.IssuedAt = time.UnixMilli(int64(tc.CreatedAt))
	case tc.IssuedAt != nil:
		c.IssuedAt = tc.IssuedAt.Time
	default:
		return Claims{}, fmt.Errorf("%w: no issue time", common.ErrInvalidToken)
	}

	switch {
	case tc.ExpiresIn > 0:
		c.TTL = time.Duration(tc.ExpiresIn) * time.Millisecond
	case tc.ExpiresAt != nil:
		c.TTL = tc.ExpiresAt.Sub(c.IssuedAt)
	default:
		return Claims{}, fmt.Errorf("%w: no lifetime", common.ErrInvalidToken)
	}

	return c, nil
}
