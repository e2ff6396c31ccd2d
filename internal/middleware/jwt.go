package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-speaking-lab/internal/utils"
)

// Claims is the token payload issued by the GEMA identity service.
type Claims struct {
	Role   string `json:"role"`
	UserID any    `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

var errNoSubject = errors.New("token carries no user id")

// JWTProtected validates HS256 bearer tokens and stores the caller's id and
// role in Locals. Websocket upgrades may pass the token as access_token in
// the query string, since browsers cannot set headers on them.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		claims := &Claims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		userID, err := claims.userID()
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token claims")
		}
		c.Locals("user_id", userID)
		if role := strings.ToLower(strings.TrimSpace(claims.Role)); role != "" {
			c.Locals("user_role", role)
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if authorization == "" {
		if token := strings.TrimSpace(c.Query("access_token")); token != "" && isUpgrade(c) {
			return token, nil
		}
		return "", errors.New("authorization header missing")
	}

	scheme, token, ok := strings.Cut(authorization, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}

func (c *Claims) userID() (uint, error) {
	candidates := []any{c.Subject, c.UserID}
	for _, candidate := range candidates {
		switch v := candidate.(type) {
		case string:
			if v == "" {
				continue
			}
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err == nil && parsed > 0 {
				return uint(parsed), nil
			}
		case float64:
			if v > 0 {
				return uint(v), nil
			}
		}
	}
	return 0, errNoSubject
}
