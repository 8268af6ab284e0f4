package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedToken indicates the token is not three base64url JSON segments.
	ErrMalformedToken = errors.New("malformed token")

	// ErrMissingExpiration indicates the payload carries no usable exp claim.
	ErrMissingExpiration = errors.New("token has no expiration claim")
)

// DecodeError reports why a token's expiration could not be read.
type DecodeError struct {
	TokenLength int
	Err         error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode token expiration (length %d): %v", e.TokenLength, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// payloadDecoder accepts both raw and padded base64url segments.
var payloadDecoder = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeExpiration reads the exp claim from the payload segment of a signed token.
// Only the payload is decoded; the header and signature are not inspected.
func DecodeExpiration(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, &DecodeError{TokenLength: len(token), Err: fmt.Errorf("%w: %d segments", ErrMalformedToken, len(parts))}
	}

	payload, err := payloadDecoder.DecodeSegment(parts[1])
	if err != nil {
		return time.Time{}, &DecodeError{TokenLength: len(token), Err: fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)}
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return time.Time{}, &DecodeError{TokenLength: len(token), Err: fmt.Errorf("%w: payload: %v", ErrMalformedToken, err)}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, &DecodeError{TokenLength: len(token), Err: fmt.Errorf("%w: %v", ErrMalformedToken, err)}
	}
	if exp == nil {
		return time.Time{}, &DecodeError{TokenLength: len(token), Err: ErrMissingExpiration}
	}
	return exp.Time, nil
}
