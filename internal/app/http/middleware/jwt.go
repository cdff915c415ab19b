package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"clinic-booking/internal/domain/tenant"
	"clinic-booking/internal/domain/users"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Context keys set by Authenticate.
const (
	KeyUserID   = "user_id"
	KeyRole     = "role"
	KeyEmail    = "email"
	KeyTenantID = "tenant_id"
)

// Principal is the caller identity carried by a bearer token.
type Principal struct {
	UserID   uint
	Role     string
	Email    string
	TenantID string
}

// Authenticator accepts the app's HS256 tokens and, when an issuer is
// configured, OIDC ID tokens whose email maps to a known user.
type Authenticator struct {
	secret   []byte
	verifier *oidc.IDTokenVerifier
	users    users.Directory
	log      zerolog.Logger
}

func NewAuthenticator(ctx context.Context, secret, issuer, clientID string, dir users.Directory, log zerolog.Logger) (*Authenticator, error) {
	a := &Authenticator{
		secret: []byte(secret),
		users:  dir,
		log:    log.With().Str("component", "auth").Logger(),
	}
	if issuer != "" {
		provider, err := oidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc provider %s: %w", issuer, err)
		}
		a.verifier = provider.Verifier(&oidc.Config{ClientID: clientID})
	}
	return a, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// principal in the gin context.
func (a *Authenticator) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(a.secret) == 0 {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "JWT secret not configured"})
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}
		raw := strings.TrimPrefix(authHeader, "Bearer ")
		if raw == authHeader || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token malformed"})
			return
		}

		p, err := a.principal(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			a.log.Debug().Err(err).Str("path", c.FullPath()).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		c.Set(KeyUserID, p.UserID)
		c.Set(KeyRole, p.Role)
		c.Set(KeyEmail, p.Email)
		c.Set(KeyTenantID, p.TenantID)
		c.Next()
	}
}

func (a *Authenticator) principal(ctx context.Context, raw string) (Principal, error) {
	p, err := a.parseAppToken(raw)
	if err == nil {
		return p, nil
	}
	if a.verifier == nil {
		return Principal{}, err
	}

	idToken, oerr := a.verifier.Verify(ctx, raw)
	if oerr != nil {
		return Principal{}, errors.Join(err, oerr)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Principal{}, fmt.Errorf("oidc claims: %w", err)
	}
	if claims.Email == "" || !claims.EmailVerified {
		return Principal{}, errors.New("oidc token without verified email")
	}
	u, err := a.users.FindByEmail(ctx, claims.Email)
	if err != nil {
		return Principal{}, fmt.Errorf("oidc user: %w", err)
	}
	if !u.IsActive {
		return Principal{}, fmt.Errorf("user %d is inactive", u.ID)
	}

	p = Principal{UserID: u.ID, Role: u.Role, Email: u.Email}
	if u.TenantID != nil {
		p.TenantID = *u.TenantID
	}
	return p, nil
}

func (a *Authenticator) parseAppToken(raw string) (Principal, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("app token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid token claims")
	}
	var p Principal
	if id, ok := claims["user_id"].(float64); ok && id > 0 {
		p.UserID = uint(id)
	}
	p.Role, _ = claims["role"].(string)
	p.Email, _ = claims["email"].(string)
	p.TenantID, _ = claims["tenant_id"].(string)
	if p.UserID == 0 || p.Role == "" {
		return Principal{}, errors.New("token lacks user_id or role")
	}
	return p, nil
}

// IssueToken signs an app token for p. The account service mints these in
// production; the CLI and tests use it for local tokens.
func IssueToken(secret string, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": p.UserID,
		"role":    p.Role,
		"email":   p.Email,
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if p.TenantID != "" {
		claims["tenant_id"] = p.TenantID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// RequireRole lets the request through when the authenticated role is one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(KeyRole)
		if !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Role not found in token"})
			return
		}
		role, _ := value.(string)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	}
}

// ScopeFrom returns the tenant scope of the authenticated caller. Requests that
// did not pass Authenticate are unscoped.
func ScopeFrom(c *gin.Context) tenant.Scope {
	return tenant.For(c.GetString(KeyTenantID))
}
