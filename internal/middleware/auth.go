package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// CallerKey ключ контекста gin с идентификатором вызывающего
const CallerKey = "caller_id"

// AuthCookieName cookie с токеном сессии
const AuthCookieName = "auth_token"

var errNoToken = errors.New("no token")

// Auth проверяет JWT вызывающего. Токены выпускает внешний сервис авторизации,
// здесь только проверка подписи HS256 и срока действия.
type Auth struct {
	secret []byte
	parser *jwt.Parser
}

func NewAuth(secret string) *Auth {
	return &Auth{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Middleware определяет вызывающего по Authorization: Bearer или cookie auth_token.
// Отсутствующий или невалидный токен не прерывает запрос: вызывающий остаётся анонимным.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.Next()
			return
		}

		subject, err := a.subject(c)
		if err == nil && subject != "" {
			c.Set(CallerKey, subject)
		}
		c.Next()
	}
}

func (a *Auth) subject(c *gin.Context) (string, error) {
	raw := bearerToken(c.GetHeader("Authorization"))
	if raw == "" {
		if cookie, err := c.Cookie(AuthCookieName); err == nil {
			raw = cookie
		}
	}
	if raw == "" {
		return "", errNoToken
	}

	claims := &jwt.RegisteredClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}); err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// CallerID идентификатор вызывающего, пустая строка для анонимного запроса
func CallerID(c *gin.Context) string {
	return c.GetString(CallerKey)
}

// RequireCaller отклоняет анонимные запросы
func RequireCaller() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}
		c.Next()
	}
}
