package middlewares

import (
	"context"
	"net/http"
	"strings"

	oidcV3 "github.com/coreos/go-oidc/v3/oidc"
	gin "github.com/gin-gonic/gin"
	zap "go.uber.org/zap"
	oauth2 "golang.org/x/oauth2"

	config "github.com/a2akit/ark/server/config"
	types "github.com/a2akit/ark/types"
)

type contextKey string

// Keys under which verified credentials are stored in the gin context. The
// server copies gin keys into the call context, so agent runs can read them.
const (
	AuthTokenContextKey contextKey = "authToken"
	IDTokenContextKey   contextKey = "idToken"
)

// OIDCAuthenticator verifies bearer tokens against an OIDC provider
type OIDCAuthenticator interface {
	Middleware() gin.HandlerFunc
}

// OIDCAuthenticatorImpl verifies ID tokens issued by the configured provider
type OIDCAuthenticatorImpl struct {
	logger   *zap.Logger
	verifier *oidcV3.IDTokenVerifier
	oauth    oauth2.Config
}

// OIDCAuthenticatorNoop passes every request through; used when auth is
// disabled or misconfigured
type OIDCAuthenticatorNoop struct{}

// NewOIDCAuthenticatorMiddleware builds an authenticator from AuthConfig.
// Incomplete configuration degrades to the noop authenticator with a warning
// rather than a refused startup.
func NewOIDCAuthenticatorMiddleware(logger *zap.Logger, cfg config.Config) (OIDCAuthenticator, error) {
	auth := cfg.AuthConfig
	if !auth.Enable {
		return &OIDCAuthenticatorNoop{}, nil
	}
	if auth.IssuerURL == "" || auth.ClientID == "" || auth.ClientSecret == "" {
		logger.Warn("authentication enabled but issuer/client fields are incomplete, continuing without auth")
		return &OIDCAuthenticatorNoop{}, nil
	}

	provider, err := oidcV3.NewProvider(context.Background(), auth.IssuerURL)
	if err != nil {
		return nil, err
	}

	return &OIDCAuthenticatorImpl{
		logger:   logger,
		verifier: provider.Verifier(&oidcV3.Config{ClientID: auth.ClientID}),
		oauth: oauth2.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidcV3.ScopeOpenID, "profile", "email"},
		},
	}, nil
}

// bearerToken extracts the bearer credential from the Authorization header
func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" || !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimPrefix(header, "Bearer "), true
}

// Middleware rejects requests without a verifiable bearer token
func (auth *OIDCAuthenticatorImpl) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			auth.logger.Warn("request without bearer credentials", zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			return
		}

		idToken, err := auth.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			auth.logger.Warn("token verification failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(string(AuthTokenContextKey), token)
		c.Set(string(IDTokenContextKey), idToken)
		c.Next()
	}
}

// Middleware passes the request through unchanged
func (auth *OIDCAuthenticatorNoop) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
	}
}

// SecurityValidator enforces the security requirements an agent card
// advertises: a request must satisfy at least one security group.
type SecurityValidator interface {
	ValidateSecurityRequirements(agentCard *types.AgentCard) gin.HandlerFunc
}

// SecurityValidatorImpl checks requests against the card's security schemes
type SecurityValidatorImpl struct {
	logger *zap.Logger
}

// SecurityValidatorNoop accepts every request
type SecurityValidatorNoop struct{}

// NewSecurityValidator creates a validator, or a noop one when auth is
// disabled
func NewSecurityValidator(logger *zap.Logger, cfg config.Config) SecurityValidator {
	if !cfg.AuthConfig.Enable {
		return &SecurityValidatorNoop{}
	}
	return &SecurityValidatorImpl{logger: logger}
}

// ValidateSecurityRequirements returns a middleware enforcing the card's
// security groups. Groups are alternatives; schemes within a group must all
// hold.
func (sv *SecurityValidatorImpl) ValidateSecurityRequirements(agentCard *types.AgentCard) gin.HandlerFunc {
	return func(c *gin.Context) {
		if agentCard == nil || len(agentCard.Security) == 0 {
			c.Next()
			return
		}

		for _, group := range agentCard.Security {
			if sv.groupSatisfied(c, agentCard, group) {
				c.Next()
				return
			}
		}

		sv.logger.Warn("no security group satisfied", zap.String("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func (sv *SecurityValidatorImpl) groupSatisfied(c *gin.Context, agentCard *types.AgentCard, group map[string][]string) bool {
	for schemeName := range group {
		scheme, ok := agentCard.SecuritySchemes[schemeName]
		if !ok {
			sv.logger.Warn("card references unknown security scheme", zap.String("scheme", schemeName))
			return false
		}
		if !sv.schemeSatisfied(c, scheme) {
			return false
		}
	}
	return true
}

func (sv *SecurityValidatorImpl) schemeSatisfied(c *gin.Context, scheme types.SecurityScheme) bool {
	switch s := scheme.(type) {
	case types.OpenIdConnectSecurityScheme:
		// Verified upstream by the OIDC middleware.
		token, ok := c.Get(string(IDTokenContextKey))
		return ok && token != nil
	case types.HTTPAuthSecurityScheme:
		header := strings.ToLower(c.GetHeader("Authorization"))
		switch strings.ToLower(s.Scheme) {
		case "bearer":
			return strings.HasPrefix(header, "bearer ")
		case "basic":
			return strings.HasPrefix(header, "basic ")
		}
		return false
	case types.APIKeySecurityScheme:
		return sv.apiKeyPresent(c, s)
	case types.MutualTLSSecurityScheme:
		return c.Request.TLS != nil && len(c.Request.TLS.PeerCertificates) > 0
	default:
		sv.logger.Warn("unsupported security scheme type")
		return false
	}
}

func (sv *SecurityValidatorImpl) apiKeyPresent(c *gin.Context, scheme types.APIKeySecurityScheme) bool {
	switch scheme.In {
	case "header":
		return c.GetHeader(scheme.Name) != ""
	case "query":
		return c.Query(scheme.Name) != ""
	case "cookie":
		cookie, err := c.Cookie(scheme.Name)
		return err == nil && cookie != ""
	}
	return false
}

// ValidateSecurityRequirements passes every request through
func (sv *SecurityValidatorNoop) ValidateSecurityRequirements(agentCard *types.AgentCard) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
	}
}
