package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// TokenCookie 是握手请求中携带凭证的 cookie 名。
const TokenCookie = "token"

var (
	ErrNoCredential = errors.New("no credential")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Identity 是凭证校验后得到的用户身份。
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

func GenerateAccessToken(userID, username, secret string, ttlMinutes int) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// JWTVerifier 把 HS256 access token 解析为身份。
type JWTVerifier struct {
	secret string
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify 校验凭证；缺少 uid 或 username 的 token 视为无效。
func (v *JWTVerifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrNoCredential
	}
	claims, err := ParseAccessToken(credential, v.secret)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalidToken, err)
	}
	if claims.UserID == "" || claims.Username == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: claims.UserID, Username: claims.Username}, nil
}

// CredentialFromRequest 依次从 token cookie、Authorization 头和 token 查询参数中提取凭证。
func CredentialFromRequest(r *http.Request) string {
	if ck, err := r.Cookie(TokenCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return r.URL.Query().Get("token")
}

// AuthMiddleware 要求请求携带有效凭证，并把身份放入 gin 上下文。
func AuthMiddleware(v *JWTVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := v.Verify(CredentialFromRequest(c.Request))
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, ErrNoCredential) {
				msg = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set("identity", id)
		c.Next()
	}
}

func GetIdentity(c *gin.Context) (Identity, bool) {
	if v, ok := c.Get("identity"); ok {
		if id, ok2 := v.(Identity); ok2 {
			return id, true
		}
	}
	return Identity{}, false
}
