package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// JWTAuthenticator resolves HS256 bearer tokens issued by the primary
// application into user records.
type JWTAuthenticator struct {
	secret []byte
}

// NewJWTAuthenticator creates an authenticator for the shared signing secret.
func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

// Resolve validates the token and extracts the user claims.
func (a *JWTAuthenticator) Resolve(ctx context.Context, credential string) (*User, error) {
	if credential == "" {
		return nil, ErrForbidden
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		log.Debug().Err(err).Msg("Token validation failed")
		return nil, ErrForbidden
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrForbidden
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, ErrForbidden
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid subject claim: %w", ErrForbidden)
	}

	return &User{
		ID:                 id,
		Email:              stringClaim(claims, "email"),
		FirstName:          stringClaim(claims, "first_name"),
		LastName:           stringClaim(claims, "last_name"),
		ProfileImageURL:    stringClaim(claims, "profile_image_url"),
		ExternalProfileURL: stringClaim(claims, "external_profile_url"),
		Superuser:          boolClaim(claims, "superuser"),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func boolClaim(claims jwt.MapClaims, key string) bool {
	v, ok := claims[key].(bool)
	return ok && v
}
