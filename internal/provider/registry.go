package provider

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"go-docspace/internal/model"
)

// Credentials are the decrypted login of credential-based providers.
type Credentials struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// Connection is what a factory gets to open a Storage.
type Connection struct {
	Link *model.ProviderLink
	// Client is authorized (OAuth providers) and rate limited.
	Client      *http.Client
	TokenSource oauth2.TokenSource
	Credentials Credentials
}

type Factory func(ctx context.Context, conn Connection) (Storage, error)

// Registry maps provider types to their constructors.
type Registry struct {
	factories map[model.ProviderType]Factory
	oauth     map[model.ProviderType]bool
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[model.ProviderType]Factory),
		oauth:     make(map[model.ProviderType]bool),
	}
}

// Register adds a factory. oauth tells the session cache to build a token
// source for links of this type.
func (r *Registry) Register(p model.ProviderType, oauth bool, f Factory) {
	r.factories[p] = f
	r.oauth[p] = oauth
}

func (r *Registry) lookup(p model.ProviderType) (Factory, bool, error) {
	f, ok := r.factories[p]
	if !ok {
		return nil, false, fmt.Errorf("%w: provider %s is not registered", ErrUnsupported, p)
	}
	return f, r.oauth[p], nil
}
