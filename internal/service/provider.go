package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	apperrors "github.com/pairlab/pairing-server-go/internal/errors"
	"github.com/pairlab/pairing-server-go/internal/model"
	"github.com/pairlab/pairing-server-go/internal/repository"
	"github.com/pairlab/pairing-server-go/internal/token"
	"github.com/pairlab/pairing-server-go/internal/util"
)

// ProviderIdentity is the subset of upstream claims the service cares
// about after a successful code exchange.
type ProviderIdentity struct {
	Subject string
	Email   string
	Name    string
}

// ProviderClient performs the provider-specific legs of a federated
// login. The OIDC implementation below is the production one; tests
// substitute a fake.
type ProviderClient interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*ProviderIdentity, error)
}

// OIDCClientConfig describes one upstream OpenID Connect provider.
type OIDCClientConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// oidcClient discovers the provider lazily on first use so the server
// can boot while the upstream is unreachable.
type oidcClient struct {
	cfg OIDCClientConfig

	mu       sync.Mutex
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

func NewOIDCClient(cfg OIDCClientConfig) ProviderClient {
	return &oidcClient{cfg: cfg}
}

func (c *oidcClient) init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.oauth != nil {
		return nil
	}

	provider, err := oidc.NewProvider(ctx, c.cfg.IssuerURL)
	if err != nil {
		return fmt.Errorf("oidc discovery for %s: %w", c.cfg.IssuerURL, err)
	}

	c.oauth = &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	c.verifier = provider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID})
	return nil
}

func (c *oidcClient) AuthCodeURL(state string) string {
	if err := c.init(context.Background()); err != nil {
		log.Error().Err(err).Msg("oidc discovery failed")
		return ""
	}
	return c.oauth.AuthCodeURL(state)
}

func (c *oidcClient) Exchange(ctx context.Context, code string) (*ProviderIdentity, error) {
	if err := c.init(ctx); err != nil {
		return nil, err
	}

	oauthToken, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("code exchange: %w", err)
	}

	rawIDToken, ok := oauthToken.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("token response has no id_token")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("id_token verification: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("id_token claims: %w", err)
	}

	return &ProviderIdentity{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

type InitiateLoginResult struct {
	AuthURL   string    `json:"authUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ProviderLoginService runs the redirect leg and the callback leg of a
// federated login. Each redirect mints a single-use state token; the
// callback consumes it exactly once.
type ProviderLoginService struct {
	clients map[string]ProviderClient
	states  repository.ProviderStateRepository
	users   repository.UserRepository
	issuer  token.Issuer
	ttl     time.Duration
	now     func() time.Time
}

func NewProviderLoginService(
	clients map[string]ProviderClient,
	states repository.ProviderStateRepository,
	users repository.UserRepository,
	issuer token.Issuer,
	ttl time.Duration,
) *ProviderLoginService {
	return &ProviderLoginService{
		clients: clients,
		states:  states,
		users:   users,
		issuer:  issuer,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Initiate persists a fresh anti-CSRF state and hands back the upstream
// authorization URL carrying it.
func (s *ProviderLoginService) Initiate(ctx context.Context, providerID string) (*InitiateLoginResult, error) {
	client, exists := s.clients[providerID]
	if !exists {
		return nil, apperrors.NotFound("Login provider")
	}

	state, err := util.GenerateStateToken()
	if err != nil {
		return nil, apperrors.Internal("Failed to generate login state").WithCause(err)
	}
	expiresAt := s.now().Add(s.ttl)

	if _, err := s.states.Create(ctx, model.CreateProviderLoginAttemptParams{
		State:     state,
		Provider:  providerID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	authURL := client.AuthCodeURL(state)
	if authURL == "" {
		return nil, apperrors.UpstreamFailure(providerID, fmt.Errorf("provider discovery failed"))
	}

	log.Info().Str("provider", providerID).Time("expiresAt", expiresAt).Msg("provider login initiated")

	return &InitiateLoginResult{
		AuthURL:   authURL,
		ExpiresAt: expiresAt,
	}, nil
}

// Callback completes a federated login: consume the state, exchange the
// code upstream, map the identity onto a local user, issue a token.
// Any replayed, expired or foreign state reports INVALID_STATE.
func (s *ProviderLoginService) Callback(ctx context.Context, providerID, code, state string) (string, error) {
	client, exists := s.clients[providerID]
	if !exists {
		return "", apperrors.NotFound("Login provider")
	}
	if code == "" {
		return "", apperrors.MissingRequired("code")
	}
	if state == "" {
		return "", apperrors.MissingRequired("state")
	}

	attempt, err := s.states.Consume(ctx, state)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if attempt == nil {
		log.Warn().Str("provider", providerID).Msg("callback with unknown or replayed state")
		return "", apperrors.InvalidState()
	}
	if attempt.Provider != providerID {
		log.Warn().
			Str("provider", providerID).
			Str("issuedFor", attempt.Provider).
			Msg("callback state issued for a different provider")
		return "", apperrors.InvalidState()
	}
	if !attempt.ExpiresAt.After(s.now()) {
		return "", apperrors.InvalidState()
	}

	identity, err := client.Exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("provider", providerID).Msg("provider code exchange failed")
		return "", apperrors.UpstreamFailure(providerID, err)
	}
	if identity.Subject == "" {
		return "", apperrors.UpstreamFailure(providerID, fmt.Errorf("provider returned an empty subject"))
	}

	user, err := s.resolveUser(ctx, providerID, identity)
	if err != nil {
		return "", err
	}

	sessionToken, err := s.issuer.Issue(ctx, user.ID)
	if err != nil {
		log.Error().Err(err).Str("userId", user.ID).Msg("token issuer failed")
		return "", apperrors.UpstreamFailure("token issuer", err)
	}

	log.Info().
		Str("provider", providerID).
		Str("userId", user.ID).
		Msg("provider login completed")

	return sessionToken, nil
}

// resolveUser maps an upstream identity onto a local user: by linked
// identity first, then by email, creating user and link as needed.
func (s *ProviderLoginService) resolveUser(ctx context.Context, providerID string, identity *ProviderIdentity) (*model.User, error) {
	linked, err := s.users.FindIdentity(ctx, providerID, identity.Subject)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if linked != nil {
		user, err := s.users.FindByID(ctx, linked.UserID)
		if err != nil {
			return nil, apperrors.Database(err)
		}
		if user == nil {
			return nil, apperrors.Internal("Linked identity points at a missing user")
		}
		return user, nil
	}

	var user *model.User
	if identity.Email != "" {
		user, err = s.users.FindByEmail(ctx, identity.Email)
		if err != nil {
			return nil, apperrors.Database(err)
		}
	}

	if user == nil {
		displayName := identity.Name
		if displayName == "" {
			displayName = identity.Email
		}
		user, err = s.users.Create(ctx, model.CreateUserParams{
			Email:       identity.Email,
			DisplayName: displayName,
			Role:        model.RoleUser,
		})
		if err != nil {
			return nil, apperrors.Database(err)
		}
		log.Info().Str("userId", user.ID).Str("provider", providerID).Msg("user created from provider login")
	}

	if err := s.users.CreateIdentity(ctx, model.CreateUserIdentityParams{
		Provider:       providerID,
		ProviderUserID: identity.Subject,
		UserID:         user.ID,
	}); err != nil {
		return nil, apperrors.Database(err)
	}

	return user, nil
}
