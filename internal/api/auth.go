package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-chatsync/internal/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultJwtExpiration = time.Hour * 24
	tokenCookieKey       = "token"
	tokenQueryKey        = "token"

	userIdClaim = "user-id"
	expClaim    = "exp"
)

var errNoToken = errors.New("no token in request")

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.UserSummary) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User returns the authenticated user stored on ctx by the auth middleware.
func User(ctx context.Context) (types.UserSummary, bool) {
	user, ok := ctx.Value(userKey).(types.UserSummary)
	return user, ok
}

func UserId(ctx context.Context) (string, bool) {
	user, ok := User(ctx)
	return user.Id, ok
}

// tokenFromRequest reads a bearer token from the Authorization header, the
// token query parameter or the session cookie, in that order. Browsers
// cannot set headers on websocket handshakes, hence the query parameter.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errors.New("malformed authorization header")
		}
		return token, nil
	}

	if token := r.URL.Query().Get(tokenQueryKey); token != "" {
		return token, nil
	}

	if c, err := r.Cookie(tokenCookieKey); err == nil && c.Value != "" {
		return c.Value, nil
	}

	return "", errNoToken
}

func (s *GoChatApp) extractUserIdFromToken(tokenString string) (string, error) {
	token, err := s.verifyToken(tokenString)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid token claims")
	}

	userId, ok := claims[userIdClaim].(string)
	if !ok || userId == "" {
		return "", errors.New("invalid user id claim")
	}

	return userId, nil
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

func hashPassword(passwd string) (string, error) {
	passwdHash, err := bcrypt.GenerateFromPassword([]byte(passwd), bcrypt.DefaultCost)
	return string(passwdHash), err
}

func verifyPassword(passwdHash, passwd string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(passwdHash), []byte(passwd))
	return err == nil
}

func (s *GoChatApp) createJwtForSession(user types.User, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(s.signingKey)
}

func (s *GoChatApp) verifyToken(tokenString string) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	return token, nil
}
