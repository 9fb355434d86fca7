package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pairlab/pairing-server-go/internal/middleware"
	"github.com/pairlab/pairing-server-go/internal/repository"
	"github.com/pairlab/pairing-server-go/internal/service"
	"github.com/pairlab/pairing-server-go/internal/token"
)

const testSecret = "test-secret-that-is-long-enough!"

func newTestServer(t *testing.T) (*httptest.Server, *token.JWTIssuer) {
	t.Helper()

	issuer := token.NewJWTIssuer(testSecret, "pairing-server", time.Hour)
	repo := repository.NewInMemoryPairingRepository()
	pairingService := service.NewPairingService(repo, issuer, 10*time.Minute)
	authMiddleware := middleware.NewAuthMiddleware(issuer)

	r := chi.NewRouter()
	r.Mount("/v1/pairing", NewPairingHandler(pairingService, authMiddleware, nil, nil).Routes())

	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return server, issuer
}

func doJSON(t *testing.T, method, url, bearer string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestPairingHandler_FullFlow(t *testing.T) {
	server, issuer := newTestServer(t)

	approverToken, err := issuer.Issue(context.Background(), "user-42")
	require.NoError(t, err)

	// Device asks for a code.
	resp, body := doJSON(t, "POST", server.URL+"/v1/pairing", "", nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	requestID := body["requestId"].(string)
	code := body["code"].(string)
	require.NotEmpty(t, requestID)
	require.NotEmpty(t, code)

	// Device polls: pending, no approver yet.
	resp, body = doJSON(t, "GET", server.URL+"/v1/pairing/"+requestID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending", body["state"])
	assert.NotContains(t, body, "approvedBy")

	// Phone claims the code.
	resp, body = doJSON(t, "POST", server.URL+"/v1/pairing/claim", approverToken, map[string]string{"code": code})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, requestID, body["requestId"])

	// Device polls: approved, approver visible.
	resp, body = doJSON(t, "GET", server.URL+"/v1/pairing/"+requestID, "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "approved", body["state"])
	assert.Equal(t, "user-42", body["approvedBy"])

	// Device exchanges the finished request for a token.
	resp, body = doJSON(t, "POST", server.URL+"/v1/pairing/"+requestID+"/token", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	issued := body["token"].(string)
	require.NotEmpty(t, issued)

	userID, err := issuer.Verify(issued)
	require.NoError(t, err)
	assert.Equal(t, "user-42", userID)

	// The exchange is single use.
	resp, body = doJSON(t, "POST", server.URL+"/v1/pairing/"+requestID+"/token", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "ALREADY_CONSUMED", body["code"])
}

func TestPairingHandler_Status(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("unknown request returns 404", func(t *testing.T) {
		resp, body := doJSON(t, "GET", server.URL+"/v1/pairing/unknown-id", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})
}

func TestPairingHandler_Claim(t *testing.T) {
	server, issuer := newTestServer(t)

	approverToken, err := issuer.Issue(context.Background(), "user-42")
	require.NoError(t, err)

	t.Run("requires authentication", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", server.URL+"/v1/pairing/claim", "", map[string]string{"code": "AAAA-AAAA"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		resp, _ := doJSON(t, "POST", server.URL+"/v1/pairing/claim", "not-a-jwt", map[string]string{"code": "AAAA-AAAA"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("unknown code returns 404", func(t *testing.T) {
		resp, body := doJSON(t, "POST", server.URL+"/v1/pairing/claim", approverToken, map[string]string{"code": "ZZZZ-ZZZZ"})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("missing code returns 400", func(t *testing.T) {
		resp, body := doJSON(t, "POST", server.URL+"/v1/pairing/claim", approverToken, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "MISSING_REQUIRED", body["code"])
	})

	t.Run("second claim of the same code returns 404", func(t *testing.T) {
		resp, body := doJSON(t, "POST", server.URL+"/v1/pairing", "", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		code := body["code"].(string)

		resp, _ = doJSON(t, "POST", server.URL+"/v1/pairing/claim", approverToken, map[string]string{"code": code})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, _ = doJSON(t, "POST", server.URL+"/v1/pairing/claim", approverToken, map[string]string{"code": code})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestPairingHandler_Finish(t *testing.T) {
	server, _ := newTestServer(t)

	t.Run("unknown request returns 404", func(t *testing.T) {
		resp, body := doJSON(t, "POST", server.URL+"/v1/pairing/unknown-id/token", "", nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		assert.Equal(t, "NOT_FOUND", body["code"])
	})

	t.Run("pending request returns 409 NOT_READY", func(t *testing.T) {
		resp, body := doJSON(t, "POST", server.URL+"/v1/pairing", "", nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		requestID := body["requestId"].(string)

		resp, body = doJSON(t, "POST", server.URL+"/v1/pairing/"+requestID+"/token", "", nil)
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "NOT_READY", body["code"])
	})
}
