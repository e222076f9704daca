package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	claimsContextKey = "auth_claims"
	roleAdmin        = "admin"
	bearerPrefix     = "Bearer "
	tokenLeeway      = 30 * time.Second
)

var errMissingToken = errors.New("missing bearer token")

// Claims are issued by the external auth service. Subject is the account id.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the token carries the operator role.
func (claims *Claims) IsAdmin() bool {
	return slices.Contains(claims.Roles, roleAdmin)
}

// CanAccess reports whether the token may act on accountID.
func (claims *Claims) CanAccess(accountID string) bool {
	return claims.IsAdmin() || claims.Subject == accountID
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	signingKey []byte
	issuer     string
}

// NewAuthenticator returns an Authenticator. An empty issuer disables the issuer check.
func NewAuthenticator(signingKey []byte, issuer string) (*Authenticator, error) {
	if len(signingKey) == 0 {
		return nil, errors.New("jwt signing key is required")
	}
	return &Authenticator{signingKey: signingKey, issuer: issuer}, nil
}

// Parse validates raw and returns its claims.
func (authenticator *Authenticator) Parse(raw string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(tokenLeeway),
	}
	if authenticator.issuer != "" {
		options = append(options, jwt.WithIssuer(authenticator.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return authenticator.signingKey, nil
	}, options...)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token.
func (authenticator *Authenticator) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		raw, err := bearerToken(ctx.GetHeader("Authorization"))
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", err.Error()))
			return
		}
		claims, err := authenticator.Parse(raw)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid token"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil || !claims.IsAdmin() {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "admin role required"))
			return
		}
		ctx.Next()
	}
}

// requireAccountAccess guards routes whose :id parameter is an account id.
func requireAccountAccess() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil || !claims.CanAccess(strings.TrimSpace(ctx.Param("id"))) {
			ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse("forbidden", "account not accessible"))
			return
		}
		ctx.Next()
	}
}

func bearerToken(header string) (string, error) {
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func getClaims(ctx *gin.Context) *Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*Claims)
	return claims
}
