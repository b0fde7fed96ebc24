package middleware

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"stockledger/internal/common"
)

// HeaderActorID names the caller when authentication is disabled.
const HeaderActorID = "X-Actor-ID"

const tokenContextKey = "user"

// ActorClaims are the token claims this service reads. Subject is the actor.
type ActorClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTConfig validates HS256 bearer tokens signed with secret.
func JWTConfig(secret string) echojwt.Config {
	return echojwt.Config{
		SigningKey:    []byte(secret),
		SigningMethod: jwt.SigningMethodHS256.Alg(),
		ContextKey:    tokenContextKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(ActorClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid or missing token", nil))
		},
	}
}

// Authenticate returns the actor middleware: JWT when a secret is configured,
// otherwise the X-Actor-ID header.
func Authenticate(secret string) echo.MiddlewareFunc {
	if secret == "" {
		return HeaderActor()
	}
	verify := echojwt.WithConfig(JWTConfig(secret))
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(actorFromToken(next))
	}
}

func actorFromToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := c.Get(tokenContextKey).(*jwt.Token)
		if !ok {
			return c.JSON(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Invalid or missing token", nil))
		}
		claims, ok := token.Claims.(*ActorClaims)
		if !ok || strings.TrimSpace(claims.Subject) == "" {
			return c.JSON(http.StatusUnauthorized, common.CreateErrorResponse("UNAUTHORIZED", "Token has no subject", nil))
		}

		req := c.Request()
		c.SetRequest(req.WithContext(common.WithActor(req.Context(), claims.Subject)))
		return next(c)
	}
}

// HeaderActor trusts X-Actor-ID. Only for deployments without JWT_SECRET.
func HeaderActor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if actor := strings.TrimSpace(c.Request().Header.Get(HeaderActorID)); actor != "" {
				req := c.Request()
				c.SetRequest(req.WithContext(common.WithActor(req.Context(), actor)))
			}
			return next(c)
		}
	}
}
