package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/eventchat/internal/types"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
	tokenQueryKey        = "token"
)

const (
	userIdClaim          = "user-id"
	firstNameClaim       = "first_name"
	usernameClaim        = "username"
	profileImageUrlClaim = "profile_image_url"
	expClaim             = "exp"
)

var errNoToken = errors.New("no token in request")

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user attached by authMiddleware.
func UserFromContext(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(userKey).(types.User)
	return user, ok
}

// NewSessionToken signs a token carrying the user's public profile.
func NewSessionToken(signingKey []byte, user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim:          user.Id,
		firstNameClaim:       user.FirstName,
		usernameClaim:        user.Username,
		profileImageUrlClaim: user.ProfileImageUrl,
		expClaim:             time.Now().Add(exp).Unix(),
	})

	return token.SignedString(signingKey)
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		Expires:  time.Now().Add(exp),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
}

// tokenFromRequest looks for a token in the cookie, then the Authorization
// header, then the query string. Browsers cannot set headers on websocket
// upgrades, hence the query fallback.
func tokenFromRequest(r *http.Request) (string, error) {
	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	if h := r.Header.Get("Authorization"); h != "" {
		token, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || token == "" {
			return "", fmt.Errorf("malformed authorization header")
		}
		return token, nil
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token, nil
	}

	return "", errNoToken
}

func (s *EventChatApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return token, nil
}

func (s *EventChatApp) userFromToken(tokenString string) (types.User, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return types.User{}, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.User{}, fmt.Errorf("invalid token claims")
	}

	userId, _ := claims[userIdClaim].(string)
	if userId == "" {
		return types.User{}, fmt.Errorf("invalid user id claim")
	}

	user := types.User{Id: userId}
	user.FirstName, _ = claims[firstNameClaim].(string)
	user.Username, _ = claims[usernameClaim].(string)
	user.ProfileImageUrl, _ = claims[profileImageUrlClaim].(string)

	return user, nil
}
