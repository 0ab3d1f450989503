package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	principalKey    = "principal"
	principalHeader = "X-Principal"
)

// PrincipalMiddleware 解析调用者身份
//
// 配置了 secret 时要求 HS256 Bearer Token，sub 为调用者地址；
// 否则直接信任 X-Principal 请求头，只用于开发和测试。
func PrincipalMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var raw string
		if secret != "" {
			sub, err := parseToken(extractToken(c.Request), secret)
			if err != nil {
				ErrorResponse(c, http.StatusUnauthorized, "Unauthenticated", "invalid or missing bearer token")
				return
			}
			raw = sub
		} else {
			raw = c.GetHeader(principalHeader)
		}

		if !common.IsHexAddress(raw) {
			ErrorResponse(c, http.StatusUnauthorized, "Unauthenticated", "caller principal must be a hex address")
			return
		}

		c.Set(principalKey, common.HexToAddress(raw))
		c.Next()
	}
}

// Principal 当前请求的调用者
func Principal(c *gin.Context) common.Address {
	if v, ok := c.Get(principalKey); ok {
		if addr, ok := v.(common.Address); ok {
			return addr
		}
	}
	return common.Address{}
}

// IssueToken 为地址签发访问令牌
func IssueToken(secret string, principal common.Address, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret is not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   principal.Hex(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseToken(tokenStr, secret string) (string, error) {
	if tokenStr == "" {
		return "", jwt.ErrTokenMalformed
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return parts[1]
}
