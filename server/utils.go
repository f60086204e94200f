package server

import (
	"github.com/google/uuid"

	"github.com/a2akit/ark/server/config"
	"github.com/a2akit/ark/types"
)

// StringPtr returns a pointer to the given string
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to the given boolean
func BoolPtr(b bool) *bool {
	return &b
}

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}

// GenerateTaskID generates a unique task ID using UUID v4
func GenerateTaskID() string {
	return uuid.New().String()
}

// GenerateContextID generates a unique context ID using UUID v4
func GenerateContextID() string {
	return uuid.New().String()
}

// GenerateMessageID generates a unique message ID using UUID v4
func GenerateMessageID() string {
	return uuid.New().String()
}

// CreateOIDCSecurityScheme creates an OpenID Connect security scheme
func CreateOIDCSecurityScheme(openIDConnectURL string, description string) types.SecurityScheme {
	return types.OpenIdConnectSecurityScheme{
		Type:             "openIdConnect",
		OpenIDConnectURL: openIDConnectURL,
		Description:      StringPtr(description),
	}
}

// CreateAPIKeySecurityScheme creates an API key security scheme
func CreateAPIKeySecurityScheme(name string, in string, description string) types.SecurityScheme {
	return types.APIKeySecurityScheme{
		Type:        "apiKey",
		Name:        name,
		In:          in,
		Description: StringPtr(description),
	}
}

// CreateHTTPAuthSecurityScheme creates an HTTP authentication security scheme
func CreateHTTPAuthSecurityScheme(scheme string, bearerFormat *string, description string) types.SecurityScheme {
	return types.HTTPAuthSecurityScheme{
		Type:         "http",
		Scheme:       scheme,
		BearerFormat: bearerFormat,
		Description:  StringPtr(description),
	}
}

// CreateOAuth2SecurityScheme creates an OAuth 2.0 security scheme
func CreateOAuth2SecurityScheme(flows types.OAuthFlows, oauth2MetadataURL *string, description string) types.SecurityScheme {
	return types.OAuth2SecurityScheme{
		Type:              "oauth2",
		Flows:             flows,
		Oauth2metadataURL: oauth2MetadataURL,
		Description:       StringPtr(description),
	}
}

// CreateMutualTLSSecurityScheme creates a mutual TLS security scheme
func CreateMutualTLSSecurityScheme(description string) types.SecurityScheme {
	return types.MutualTLSSecurityScheme{
		Type:        "mutualTLS",
		Description: StringPtr(description),
	}
}

// AgentCardSecurityConfig holds security configuration options for an agent card
type AgentCardSecurityConfig struct {
	EnableOIDC                        bool
	OIDCIssuerURL                     string
	SupportsAuthenticatedExtendedCard bool
	EnableAPIKey                      bool
	APIKeyName                        string
	APIKeyLocation                    string // "header", "query", "cookie"
	EnableMutualTLS                   bool
}

// ConfigureAgentCardSecurity declares the enabled schemes on the card and
// records them as a single security group, so a caller satisfying any one
// declared scheme does not suffice when several are enabled.
func ConfigureAgentCardSecurity(card *types.AgentCard, securityConfig AgentCardSecurityConfig) {
	if card.SecuritySchemes == nil {
		card.SecuritySchemes = make(map[string]types.SecurityScheme)
	}
	card.Security = nil

	group := map[string][]string{}
	declare := func(name string, scheme types.SecurityScheme) {
		card.SecuritySchemes[name] = scheme
		group[name] = []string{}
	}

	if securityConfig.EnableOIDC && securityConfig.OIDCIssuerURL != "" {
		declare("oidc", CreateOIDCSecurityScheme(securityConfig.OIDCIssuerURL, "OpenID Connect authentication"))
	}
	if securityConfig.EnableAPIKey && securityConfig.APIKeyName != "" {
		location := securityConfig.APIKeyLocation
		if location == "" {
			location = "header"
		}
		declare("api_key", CreateAPIKeySecurityScheme(securityConfig.APIKeyName, location, "API key authentication"))
	}
	if securityConfig.EnableMutualTLS {
		declare("mtls", CreateMutualTLSSecurityScheme("Mutual TLS authentication"))
	}

	if len(group) > 0 {
		card.Security = []map[string][]string{group}
	}

	card.SupportsAuthenticatedExtendedCard = BoolPtr(securityConfig.SupportsAuthenticatedExtendedCard)
}

// CreateSecurityConfigFromAuthConfig creates security configuration from auth config
func CreateSecurityConfigFromAuthConfig(authConfig config.AuthConfig) AgentCardSecurityConfig {
	return AgentCardSecurityConfig{
		EnableOIDC:                        authConfig.Enable && authConfig.IssuerURL != "",
		OIDCIssuerURL:                     authConfig.IssuerURL,
		SupportsAuthenticatedExtendedCard: authConfig.SupportsAuthenticatedExtendedCard,
		EnableAPIKey:                      authConfig.EnableAPIKey,
		APIKeyName:                        authConfig.APIKeyHeader,
		APIKeyLocation:                    "header",
		EnableMutualTLS:                   authConfig.EnableMutualTLS,
	}
}
