package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"tush00nka/bbbab_teamchat/internal/pkg/apperr"
	"tush00nka/bbbab_teamchat/internal/pkg/logger"

	"github.com/golang-jwt/jwt"
)

var (
	keyMu  sync.RWMutex
	jwtKey = []byte("insecure-development-key-change-me")
)

// SetKey задает ключ подписи. Пустой ключ оставляет небезопасный ключ разработки.
func SetKey(key string) {
	if key == "" {
		logger.Log.Warn("JWT_KEY is not set, using insecure fallback; set JWT_KEY in production")
		return
	}
	keyMu.Lock()
	defer keyMu.Unlock()
	jwtKey = []byte(key)
}

func signingKey() []byte {
	keyMu.RLock()
	defer keyMu.RUnlock()
	return jwtKey
}

type Claims struct {
	UserID uint `json:"user_id"`
	jwt.StandardClaims
}

func GenerateToken(userID uint) (string, error) {
	expirationTime := time.Now().Add(24 * time.Hour)
	claims := &Claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: expirationTime.Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(signingKey())
}

func ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return signingKey(), nil
	})

	if err != nil {
		return nil, apperr.Wrap(err, apperr.Unauthenticated, "invalid or expired token")
	}

	if !tkn.Valid || claims.UserID == 0 {
		return nil, apperr.New(apperr.Unauthenticated, "invalid or expired token")
	}

	return claims, nil
}

// TokenFromRequest достает токен из заголовка Authorization, cookie token
// или параметра token (браузерный WebSocket не умеет слать заголовки)
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}

// GetCurrentUser проверяет токен запроса и возвращает id пользователя
func GetCurrentUser(r *http.Request) (uint, error) {
	tokenStr := TokenFromRequest(r)
	if tokenStr == "" {
		return 0, apperr.New(apperr.Unauthenticated, "authentication required")
	}

	claims, err := ValidateToken(tokenStr)
	if err != nil {
		return 0, err
	}

	return claims.UserID, nil
}

type ctxKey struct{}

// WithUserID кладет id аутентифицированного пользователя в контекст
func WithUserID(ctx context.Context, userID uint) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserIDFrom достает id пользователя из контекста
func UserIDFrom(ctx context.Context) (uint, bool) {
	userID, ok := ctx.Value(ctxKey{}).(uint)
	return userID, ok && userID != 0
}
