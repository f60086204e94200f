package types

import (
	"encoding/json"
	"fmt"
)

// Security scheme type discriminator values.
const (
	SecuritySchemeTypeAPIKey        = "apiKey"
	SecuritySchemeTypeHTTP          = "http"
	SecuritySchemeTypeOAuth2        = "oauth2"
	SecuritySchemeTypeOpenIDConnect = "openIdConnect"
	SecuritySchemeTypeMutualTLS     = "mutualTLS"
)

// UnmarshalSecurityScheme decodes a single security scheme from JSON,
// dispatching on the type discriminator to one of the concrete scheme types.
func UnmarshalSecurityScheme(data []byte) (SecurityScheme, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to probe security scheme type: %w", err)
	}

	switch probe.Type {
	case SecuritySchemeTypeAPIKey:
		var s APIKeySecurityScheme
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case SecuritySchemeTypeHTTP:
		var s HTTPAuthSecurityScheme
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case SecuritySchemeTypeOAuth2:
		var s OAuth2SecurityScheme
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case SecuritySchemeTypeOpenIDConnect:
		var s OpenIdConnectSecurityScheme
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	case SecuritySchemeTypeMutualTLS:
		var s MutualTLSSecurityScheme
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown security scheme type %q", probe.Type)
	}
}

// UnmarshalJSON decodes an agent card, resolving each entry of
// securitySchemes to its concrete scheme type.
func (c *AgentCard) UnmarshalJSON(data []byte) error {
	type alias AgentCard
	helper := struct {
		*alias
		SecuritySchemes map[string]json.RawMessage `json:"securitySchemes,omitempty"`
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, &helper); err != nil {
		return err
	}

	if len(helper.SecuritySchemes) > 0 {
		c.SecuritySchemes = make(map[string]SecurityScheme, len(helper.SecuritySchemes))
		for name, raw := range helper.SecuritySchemes {
			scheme, err := UnmarshalSecurityScheme(raw)
			if err != nil {
				return fmt.Errorf("failed to unmarshal security scheme %q: %w", name, err)
			}
			c.SecuritySchemes[name] = scheme
		}
	}

	return nil
}
