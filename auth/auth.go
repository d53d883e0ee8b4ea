package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/golang-jwt/jwt/v4"

	"user-directory/models"
)

// PrincipalAttribute is the request attribute AuthFilter stores the caller under.
const PrincipalAttribute = "principal"

// Principal is the authenticated caller. It is handed explicitly to every
// service operation.
type Principal struct {
	UserID   string
	Username string
	Roles    []string
}

// HasAnyRole reports whether the principal holds at least one of roles.
func (p *Principal) HasAnyRole(roles ...string) bool {
	if p == nil {
		return false
	}
	for _, want := range roles {
		for _, have := range p.Roles {
			if strings.EqualFold(want, have) {
				return true
			}
		}
	}
	return false
}

// CustomClaims represents the claims carried by directory tokens.
type CustomClaims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 tokens signed with the configured secret.
type Authenticator struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewAuthenticator(secret, issuer string, ttl time.Duration) (*Authenticator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Authenticator{signingKey: []byte(secret), issuer: issuer, ttl: ttl}, nil
}

// GenerateToken creates a new JWT for the given user. The directory has no
// login endpoint; operators mint tokens from the command line.
func (a *Authenticator) GenerateToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID:   user.ID,
		Username: user.Username,
		Roles:    user.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   user.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.signingKey)
}

// ParseAndValidateToken checks signature, expiry and issuer and returns the
// principal the token describes.
func (a *Authenticator) ParseAndValidateToken(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.signingKey, nil
	})

	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) {
			switch {
			case ve.Errors&jwt.ValidationErrorMalformed != 0:
				return nil, errors.New("malformed token")
			case ve.Errors&(jwt.ValidationErrorExpired|jwt.ValidationErrorNotValidYet) != 0:
				return nil, errors.New("token is either expired or not active yet")
			case ve.Errors&jwt.ValidationErrorSignatureInvalid != 0:
				return nil, errors.New("invalid token signature")
			}
		}
		return nil, fmt.Errorf("couldn't handle this token: %w", err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, errors.New("invalid token issuer")
	}
	if claims.Username == "" {
		return nil, errors.New("invalid token claims")
	}

	return &Principal{UserID: claims.UserID, Username: claims.Username, Roles: claims.Roles}, nil
}

// AuthFilter creates a go-restful FilterFunction for JWT authentication.
func (a *Authenticator) AuthFilter() restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		authHeader := req.HeaderParameter("Authorization")
		if authHeader == "" {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": "Authorization header required"}, restful.MIME_JSON)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": "Invalid authorization header format"}, restful.MIME_JSON)
			return
		}

		principal, err := a.ParseAndValidateToken(strings.TrimSpace(parts[1]))
		if err != nil {
			_ = resp.WriteHeaderAndJson(http.StatusUnauthorized, map[string]string{"message": err.Error()}, restful.MIME_JSON)
			return
		}

		req.SetAttribute(PrincipalAttribute, principal)
		chain.ProcessFilter(req, resp)
	}
}

// RequireRoles rejects callers holding none of roles. With no roles every
// authenticated caller passes. It must run after AuthFilter.
func RequireRoles(roles ...string) restful.FilterFunction {
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		if len(roles) > 0 && !PrincipalFromRequest(req).HasAnyRole(roles...) {
			_ = resp.WriteHeaderAndJson(http.StatusForbidden, map[string]string{"message": "Forbidden"}, restful.MIME_JSON)
			return
		}
		chain.ProcessFilter(req, resp)
	}
}

// PrincipalFromRequest returns the principal AuthFilter attached, or nil.
func PrincipalFromRequest(req *restful.Request) *Principal {
	p, _ := req.Attribute(PrincipalAttribute).(*Principal)
	return p
}
