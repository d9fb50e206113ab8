// Package auth 校验审核平台签发的访问令牌。
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

// Verifier 使用共享密钥校验 HMAC 签名的 JWT，sub 即用户 ID。
type Verifier struct {
	secret []byte
	method jwt.SigningMethod
}

// NewVerifier 创建 Verifier。algorithm 为空时使用 HS256。
func NewVerifier(secret, algorithm string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm: %s", algorithm)
	}
	return &Verifier{secret: []byte(secret), method: method}, nil
}

// Verify 校验令牌并返回 sub。
func (v *Verifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &botcore.AuthError{Reason: "token has expired", Err: err}
		}
		return "", &botcore.AuthError{Reason: "invalid token", Err: err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", &botcore.AuthError{Reason: "invalid token"}
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", &botcore.AuthError{Reason: "token has no subject"}
	}
	return sub, nil
}

// Issue 签发一个 sub 为 subject 的令牌，ttl<=0 时不设置过期时间。
func (v *Verifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	token := jwt.NewWithClaims(v.method, claims)
	return token.SignedString(v.secret)
}
