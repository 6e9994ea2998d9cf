package provider

import (
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"gopkg.in/yaml.v3"

	"go-docspace/internal/model"
)

// ClientConfig is one OAuth application registration.
type ClientConfig struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
	// AuthURL and TokenURL override the well-known endpoints.
	AuthURL  string `yaml:"auth_url,omitempty"`
	TokenURL string `yaml:"token_url,omitempty"`
	// Tenant selects the Azure AD tenant for OneDrive and SharePoint.
	Tenant string `yaml:"tenant,omitempty"`
}

// Catalogue holds the OAuth client of every provider that needs one.
type Catalogue struct {
	Providers map[string]ClientConfig `yaml:"providers"`
}

// LoadCatalogue reads the YAML catalogue. A missing path yields an empty
// catalogue, which only allows credential-based providers.
func LoadCatalogue(path string) (*Catalogue, error) {
	c := &Catalogue{Providers: map[string]ClientConfig{}}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read provider catalogue: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse provider catalogue: %w", err)
	}
	for name := range c.Providers {
		if _, err := model.ParseProviderType(name); err != nil {
			return nil, fmt.Errorf("provider catalogue: %w", err)
		}
	}
	return c, nil
}

// OAuthConfig builds the oauth2 config for p.
func (c *Catalogue) OAuthConfig(p model.ProviderType) (*oauth2.Config, error) {
	var (
		cc ClientConfig
		ok bool
	)
	for name, v := range c.Providers {
		if parsed, _ := model.ParseProviderType(name); parsed == p {
			cc, ok = v, true
			break
		}
	}
	if !ok {
		return nil, fmt.Errorf("no oauth client configured for %s", p)
	}

	endpoint := defaultEndpoint(p, cc.Tenant)
	if cc.AuthURL != "" {
		endpoint.AuthURL = cc.AuthURL
	}
	if cc.TokenURL != "" {
		endpoint.TokenURL = cc.TokenURL
	}

	return &oauth2.Config{
		ClientID:     cc.ClientID,
		ClientSecret: cc.ClientSecret,
		RedirectURL:  cc.RedirectURL,
		Scopes:       cc.Scopes,
		Endpoint:     endpoint,
	}, nil
}

func defaultEndpoint(p model.ProviderType, tenant string) oauth2.Endpoint {
	switch p {
	case model.ProviderGoogleDrive:
		return google.Endpoint
	case model.ProviderOneDrive, model.ProviderSharePoint:
		if tenant == "" {
			tenant = "common"
		}
		return microsoft.AzureADEndpoint(tenant)
	case model.ProviderDropbox:
		return oauth2.Endpoint{
			AuthURL:  "https://www.dropbox.com/oauth2/authorize",
			TokenURL: "https://api.dropboxapi.com/oauth2/token",
		}
	case model.ProviderBox:
		return oauth2.Endpoint{
			AuthURL:  "https://account.box.com/api/oauth2/authorize",
			TokenURL: "https://api.box.com/oauth2/token",
		}
	default:
		return oauth2.Endpoint{}
	}
}
