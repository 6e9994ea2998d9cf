package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"go-docspace/internal/cryptox"
	"go-docspace/internal/metrics"
	"go-docspace/internal/model"
	"go-docspace/internal/retry"
	"go-docspace/internal/selector"
)

// TokenStore persists refreshed tokens of a link.
type TokenStore interface {
	UpdateToken(ctx context.Context, linkID int, token string) error
}

type SessionOptions struct {
	// TTL bounds how long an opened session is reused.
	TTL  time.Duration
	Size int
	// RPS limits requests per second per session; zero disables limiting.
	RPS   float64
	Burst int
	Retry retry.Policy
}

// SessionCache opens provider sessions on demand and shares them between
// concurrent operations of the process. It is created at startup and closed
// on shutdown.
type SessionCache struct {
	registry  *Registry
	catalogue *Catalogue
	cipher    *cryptox.Cipher
	tokens    TokenStore
	entities  *EntityCache
	opts      SessionOptions

	group    singleflight.Group
	sessions *expirable.LRU[int, *managed]

	mu     sync.Mutex
	closed bool
}

func NewSessionCache(registry *Registry, catalogue *Catalogue, cipher *cryptox.Cipher, tokens TokenStore, entities *EntityCache, opts SessionOptions) *SessionCache {
	if opts.Size <= 0 {
		opts.Size = 256
	}
	if opts.TTL <= 0 {
		opts.TTL = 20 * time.Minute
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	c := &SessionCache{
		registry:  registry,
		catalogue: catalogue,
		cipher:    cipher,
		tokens:    tokens,
		entities:  entities,
		opts:      opts,
	}
	c.sessions = expirable.NewLRU[int, *managed](opts.Size, func(linkID int, s *managed) {
		if err := s.Storage.Close(); err != nil {
			slog.Warn("close provider session", "link_id", linkID, "error", err)
		}
	}, opts.TTL)
	return c
}

// Acquire returns the open session of link, opening it when absent or
// expired. A missing or unrefreshable token fails with model.ErrUnauthorized.
func (c *SessionCache) Acquire(ctx context.Context, link *model.ProviderLink) (Storage, error) {
	if s, ok := c.sessions.Get(link.ID); ok {
		return s, nil
	}

	v, err, _ := c.group.Do(strconv.Itoa(link.ID), func() (any, error) {
		if s, ok := c.sessions.Get(link.ID); ok {
			return s, nil
		}
		s, err := c.open(ctx, link)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			s.Storage.Close()
			return nil, errors.New("session cache is closed")
		}
		c.sessions.Add(link.ID, s)
		metrics.SetProviderSessions(c.sessions.Len())
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*managed), nil
}

// Invalidate evicts cached entity metadata; see EntityCache.Invalidate.
func (c *SessionCache) Invalidate(sel selector.Selector, linkID int, entityID string, isFile bool) {
	c.entities.Invalidate(sel, linkID, entityID, isFile)
}

// Drop closes the session of linkID, e.g. after the link was removed or its
// credentials changed.
func (c *SessionCache) Drop(linkID int) {
	c.sessions.Remove(linkID)
	c.entities.InvalidateLink(linkID)
	metrics.SetProviderSessions(c.sessions.Len())
}

func (c *SessionCache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.sessions.Purge()
	metrics.SetProviderSessions(0)
	return nil
}

func (c *SessionCache) open(ctx context.Context, link *model.ProviderLink) (*managed, error) {
	factory, oauth, err := c.registry.lookup(link.Provider)
	if err != nil {
		return nil, err
	}

	// the session outlives the request that opened it
	sessCtx := context.WithoutCancel(ctx)

	base := http.DefaultTransport
	if hc, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && hc.Transport != nil {
		base = hc.Transport
	}
	conn := Connection{Link: link}

	if oauth {
		ts, err := c.tokenSource(sessCtx, link)
		if err != nil {
			return nil, err
		}
		conn.TokenSource = ts
		conn.Client = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: c.limit(base)}}
	} else {
		if err := c.cipher.DecryptJSON(link.Credentials, &conn.Credentials); err != nil {
			return nil, fmt.Errorf("link %d credentials: %w", link.ID, err)
		}
		conn.Client = &http.Client{Transport: c.limit(base)}
	}

	storage, err := factory(sessCtx, conn)
	if err != nil {
		return nil, fmt.Errorf("open %s session for link %d: %w", link.Provider, link.ID, err)
	}

	slog.Info("provider session opened", "provider", link.Provider, "link_id", link.ID)
	return &managed{
		Storage: storage,
		kind:    link.Provider,
		linkID:  link.ID,
		cache:   c.entities,
		policy:  c.opts.Retry,
	}, nil
}

func (c *SessionCache) limit(base http.RoundTripper) http.RoundTripper {
	if c.opts.RPS <= 0 {
		return base
	}
	burst := max(c.opts.Burst, 1)
	return &limitedTransport{base: base, limiter: rate.NewLimiter(rate.Limit(c.opts.RPS), burst)}
}

func (c *SessionCache) tokenSource(ctx context.Context, link *model.ProviderLink) (oauth2.TokenSource, error) {
	raw, err := c.cipher.Decrypt(link.Token)
	if err != nil {
		return nil, fmt.Errorf("link %d token: %w", link.ID, err)
	}
	if raw == "" {
		return nil, fmt.Errorf("link %d has no token: %w", link.ID, model.ErrUnauthorized)
	}

	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil || tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("link %d token is malformed: %w", link.ID, model.ErrUnauthorized)
	}

	cfg, err := c.catalogue.OAuthConfig(link.Provider)
	if err != nil {
		return nil, err
	}

	ts := &persistingSource{
		base:   cfg.TokenSource(ctx, &tok),
		last:   tok.AccessToken,
		linkID: link.ID,
		save: func(t *oauth2.Token) error {
			sealed, err := c.cipher.EncryptJSON(t)
			if err != nil {
				return err
			}
			return c.tokens.UpdateToken(ctx, link.ID, sealed)
		},
	}

	// refresh now so a dead token surfaces on open, not mid-transfer
	if _, err := ts.Token(); err != nil {
		return nil, err
	}
	return ts, nil
}

// persistingSource stores every token the refresh flow hands out.
type persistingSource struct {
	base   oauth2.TokenSource
	linkID int
	save   func(*oauth2.Token) error

	mu   sync.Mutex
	last string
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token of link %d: %v: %w", p.linkID, err, model.ErrUnauthorized)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		if err := p.save(tok); err != nil {
			slog.Warn("persist refreshed token failed", "link_id", p.linkID, "error", err)
		} else {
			p.last = tok.AccessToken
		}
	}
	return tok, nil
}

type limitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
