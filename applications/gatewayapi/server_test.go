package gatewayapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enclagent/gateway/domain/eventbus"
	"github.com/enclagent/gateway/domain/onboarding"
	"github.com/enclagent/gateway/domain/policy"
	"github.com/enclagent/gateway/domain/provisioning"
	"github.com/enclagent/gateway/domain/session"
	"github.com/enclagent/gateway/domain/timeline"
	"github.com/enclagent/gateway/infrastructure/config"
	"github.com/enclagent/gateway/infrastructure/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.New()
	cfg.Frontdoor.Enabled = true
	cfg.Provisioning.Backend = provisioning.BackendDefaultURL
	cfg.Provisioning.DefaultInstanceURL = "https://instance.example/gw"

	dispatcher := provisioning.NewDispatcher(cfg.Provisioning.Backend, cfg.Provisioning.Command, time.Minute, cfg.Provisioning.DefaultInstanceURL)
	require.NotNil(t, dispatcher)

	return NewServer(Deps{
		Config:      cfg,
		Sessions:    session.NewMemoryStore(),
		Timelines:   timeline.NewMemoryRecorder(),
		Onboarding:  onboarding.NewMemoryStore(),
		Templates:   policy.NewLibrary(),
		Provisioner: dispatcher,
		Bus:         eventbus.New(16),
		Metrics:     metrics.NewWithRegistry(prometheus.NewRegistry()),
	})
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validVerifyConfig(operatorWallet string) *policy.Config {
	return &policy.Config{
		ProfileName:                     "alpha_v1",
		ProfileDomain:                   "trading",
		SymbolAllowlist:                 []string{"btc", "eth"},
		RequestTimeoutMs:                30000,
		MaxRetries:                      3,
		RetryBackoffMs:                  1000,
		MaxPositionSizeUSD:              5000,
		LeverageCap:                     5,
		MaxLeverage:                     2,
		MaxAllocationUSD:                10000,
		PerTradeNotionalCapUSD:          1000,
		MaxSlippageBps:                  50,
		CustodyMode:                     policy.CustodyModeOperatorWallet,
		OperatorWalletAddress:           operatorWallet,
		GatewayAuthKey:                  "k0123456789abcdef",
		VerificationBackend:             policy.VerificationBackendEigencloudPrimary,
		VerificationEigencloudTimeoutMs: 10000,
		AcceptTerms:                     true,
	}
}

func TestChallengeThenVerify_HappyPathReachesProvisioning(t *testing.T) {
	srv := testServer(t)
	routes := srv.Routes()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challengeRec := postJSON(t, routes, "/challenge", challengeRequest{WalletAddress: wallet, PrivyUserID: "privy-1", ChainID: "1"}, nil)
	require.Equal(t, http.StatusOK, challengeRec.Code)

	var challengeResp challengeResponse
	require.NoError(t, json.Unmarshal(challengeRec.Body.Bytes(), &challengeResp))
	require.NotEmpty(t, challengeResp.SessionID)

	digest := accounts.TextHash([]byte(challengeResp.Message))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	sigHex := "0x" + hex.EncodeToString(sig)

	verifyReq := verifyRequest{
		SessionID:     challengeResp.SessionID,
		WalletAddress: wallet,
		SignedMessage: challengeResp.Message,
		Signature:     sigHex,
		Config:        validVerifyConfig(wallet),
	}
	verifyRec := postJSON(t, routes, "/verify", verifyReq, map[string]string{"X-Privy-Identity-Token": "tok-1"})
	require.Equal(t, http.StatusOK, verifyRec.Code, verifyRec.Body.String())

	var verifyResp verifyResponse
	require.NoError(t, json.Unmarshal(verifyRec.Body.Bytes(), &verifyResp))
	assert.Equal(t, challengeResp.SessionID, verifyResp.SessionID)
	assert.Equal(t, string(session.StatusProvisioning), verifyResp.Status)
	assert.Equal(t, challengeResp.Version+1, verifyResp.Version)
}

func TestChallenge_InvalidWalletAddressRejected(t *testing.T) {
	srv := testServer(t)
	rec := postJSON(t, srv.Routes(), "/challenge", challengeRequest{WalletAddress: "not-a-wallet"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChallenge_FrontdoorDisabledRejected(t *testing.T) {
	srv := testServer(t)
	srv.cfg.Frontdoor.Enabled = false
	rec := postJSON(t, srv.Routes(), "/challenge", challengeRequest{WalletAddress: "0x1234567890abcdef1234567890abcdef12345678"}, nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}

func TestVerify_UnknownSessionIsNotFound(t *testing.T) {
	srv := testServer(t)
	rec := postJSON(t, srv.Routes(), "/verify", verifyRequest{SessionID: "missing"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerify_WalletMismatchRejected(t *testing.T) {
	srv := testServer(t)
	routes := srv.Routes()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challengeRec := postJSON(t, routes, "/challenge", challengeRequest{WalletAddress: wallet}, nil)
	require.Equal(t, http.StatusOK, challengeRec.Code)
	var challengeResp challengeResponse
	require.NoError(t, json.Unmarshal(challengeRec.Body.Bytes(), &challengeResp))

	digest := accounts.TextHash([]byte(challengeResp.Message))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	sigHex := "0x" + hex.EncodeToString(sig)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	otherWallet := crypto.PubkeyToAddress(other.PublicKey).Hex()

	verifyRec := postJSON(t, routes, "/verify", verifyRequest{
		SessionID:     challengeResp.SessionID,
		WalletAddress: otherWallet,
		SignedMessage: challengeResp.Message,
		Signature:     sigHex,
		Config:        validVerifyConfig(otherWallet),
	}, nil)
	assert.NotEqual(t, http.StatusOK, verifyRec.Code)
}

func TestVerify_InvalidConfigFailsSession(t *testing.T) {
	srv := testServer(t)
	routes := srv.Routes()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	challengeRec := postJSON(t, routes, "/challenge", challengeRequest{WalletAddress: wallet}, nil)
	require.Equal(t, http.StatusOK, challengeRec.Code)
	var challengeResp challengeResponse
	require.NoError(t, json.Unmarshal(challengeRec.Body.Bytes(), &challengeResp))

	digest := accounts.TextHash([]byte(challengeResp.Message))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	sigHex := "0x" + hex.EncodeToString(sig)

	badConfig := validVerifyConfig(wallet)
	badConfig.SymbolAllowlist = nil

	verifyRec := postJSON(t, routes, "/verify", verifyRequest{
		SessionID:     challengeResp.SessionID,
		WalletAddress: wallet,
		SignedMessage: challengeResp.Message,
		Signature:     sigHex,
		Config:        badConfig,
	}, map[string]string{"X-Privy-Identity-Token": "tok-1"})
	assert.NotEqual(t, http.StatusOK, verifyRec.Code)

	sess, err := srv.sessions.Get(context.Background(), challengeResp.SessionID)
	if err == nil {
		assert.Equal(t, session.StatusFailed, sess.Status)
	}
}

func TestGetSession_UnknownReturnsNotFound(t *testing.T) {
	srv := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/session/missing", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
