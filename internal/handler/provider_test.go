package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlab/pairing-server-go/internal/repository"
	"github.com/pairlab/pairing-server-go/internal/service"
	"github.com/pairlab/pairing-server-go/internal/token"
)

type fakeProviderClient struct {
	identity *service.ProviderIdentity
}

func (f *fakeProviderClient) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeProviderClient) Exchange(ctx context.Context, code string) (*service.ProviderIdentity, error) {
	return f.identity, nil
}

func newProviderTestServer(t *testing.T) (*httptest.Server, *token.JWTIssuer) {
	t.Helper()

	issuer := token.NewJWTIssuer(testSecret, "pairing-server", time.Hour)
	loginService := service.NewProviderLoginService(
		map[string]service.ProviderClient{
			"acme": &fakeProviderClient{
				identity: &service.ProviderIdentity{
					Subject: "idp-sub-1",
					Email:   "dana@example.com",
					Name:    "Dana",
				},
			},
		},
		repository.NewInMemoryProviderStateRepository(),
		repository.NewInMemoryUserRepository(),
		issuer,
		5*time.Minute,
	)

	r := chi.NewRouter()
	r.Mount("/v1/auth", NewProviderHandler(loginService).Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, issuer
}

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func TestProviderHandler_Initiate(t *testing.T) {
	server, _ := newProviderTestServer(t)

	t.Run("redirects to the provider with a state", func(t *testing.T) {
		resp, err := noRedirectClient().Get(server.URL + "/v1/auth/acme")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusFound, resp.StatusCode)
		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, "idp.example.com", location.Host)
		assert.NotEmpty(t, location.Query().Get("state"))
	})

	t.Run("unknown provider returns 404", func(t *testing.T) {
		resp, err := noRedirectClient().Get(server.URL + "/v1/auth/nope")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestProviderHandler_Callback(t *testing.T) {
	server, issuer := newProviderTestServer(t)

	initiate := func(t *testing.T) string {
		resp, err := noRedirectClient().Get(server.URL + "/v1/auth/acme")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		location, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		return location.Query().Get("state")
	}

	t.Run("completes login and returns a token", func(t *testing.T) {
		state := initiate(t)

		resp, body := doJSON(t, "GET", server.URL+"/v1/auth/acme/callback?code=auth-code&state="+state, "", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		issued := body["token"].(string)
		require.NotEmpty(t, issued)
		userID, err := issuer.Verify(issued)
		require.NoError(t, err)
		assert.NotEmpty(t, userID)
	})

	t.Run("replayed state returns 400 INVALID_STATE", func(t *testing.T) {
		state := initiate(t)

		resp, _ := doJSON(t, "GET", server.URL+"/v1/auth/acme/callback?code=auth-code&state="+state, "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := doJSON(t, "GET", server.URL+"/v1/auth/acme/callback?code=auth-code&state="+state, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_STATE", body["code"])
	})

	t.Run("unknown state returns 400", func(t *testing.T) {
		resp, body := doJSON(t, "GET", server.URL+"/v1/auth/acme/callback?code=auth-code&state=never-issued", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "INVALID_STATE", body["code"])
	})

	t.Run("missing code returns 400", func(t *testing.T) {
		state := initiate(t)

		resp, body := doJSON(t, "GET", server.URL+"/v1/auth/acme/callback?state="+state, "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})
}
