package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethaccount/tokenpay/erc4337"
	"github.com/ethaccount/tokenpay/src/domain"
	"github.com/ethaccount/tokenpay/src/repository"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "s3cret"

var (
	testAccount   = common.HexToAddress("0x8D4a1a5c5ef9E0B4D1B1d2C6F2D6fC6d1dB8a1A1")
	testRecipient = common.HexToAddress("0x5a6B842891032d702517a4E52ec38eE561063539")
	testToken     = common.HexToAddress("0xD5a6dcff7AC339A03f6964c315575bF65c3c6cF1")
	testTxHash    = common.HexToHash("0x9b7bb827c2e5e3c1a0a44dc53e573aa0b3af3bd1f9f5ed03071b100bb039eaff")
	testOpHash    = common.HexToHash("0x4ba97b98176a738258b6d22166ffaa157605010189957251c4c99d30d2aa7585")
)

type stubPayments struct {
	mu sync.Mutex

	info     *domain.AccountInfo
	result   *domain.PaymentResult
	record   *domain.PaymentRecord
	err      error
	requests []domain.PaymentRequest
}

func (s *stubPayments) DescribeAccount(context.Context, erc4337.Signer) (*domain.AccountInfo, error) {
	return s.info, s.err
}

func (s *stubPayments) ExecutePayment(_ context.Context, _ erc4337.Signer, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, s.err
}

func (s *stubPayments) GetPayment(_ context.Context, id uuid.UUID) (*domain.PaymentRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.record == nil || s.record.ID != id {
		return nil, repository.ErrPaymentNotFound
	}
	return s.record, nil
}

type stubTokens struct {
	tokens []domain.SupportedToken
	modes  []domain.PaymentMode
}

func (s *stubTokens) GetSupportedTokens(context.Context) []domain.SupportedToken {
	return s.tokens
}

func (s *stubTokens) GetTokensForMode(_ context.Context, mode domain.PaymentMode) []domain.SupportedToken {
	s.modes = append(s.modes, mode)
	return s.tokens[:1]
}

type testResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(payments *stubPayments, tokens *stubTokens) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(context.Background(), router, Dependencies{
		Payments:    payments,
		Tokens:      tokens,
		APISecret:   testSecret,
		ExplorerURL: "explorer.example",
	})
	return router
}

func serve(t *testing.T, router *gin.Engine, req *http.Request) (int, testResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp testResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&stubPayments{}, &stubTokens{})

	for _, path := range []string{"/health", "/api/v1/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message":"ok"}`, rec.Body.String())
	}
}

func TestHealthCheck_Dependencies(t *testing.T) {
	tests := []struct {
		name       string
		redisErr   error
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all up",
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"ok","checks":{"database":"ok","redis":"ok"}}`,
		},
		{
			name:       "redis down",
			redisErr:   errors.New("dial tcp: connection refused"),
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"message":"degraded","checks":{"database":"ok","redis":"dial tcp: connection refused"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gin.SetMode(gin.TestMode)
			router := gin.New()
			router.GET("/health", HandleHealthCheck(map[string]HealthCheck{
				"database": func(context.Context) error { return nil },
				"redis":    func(context.Context) error { return tt.redisErr },
			}))

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestGetAccount(t *testing.T) {
	payments := &stubPayments{info: &domain.AccountInfo{
		Address:    testAccount,
		ChainID:    689,
		EntryPoint: erc4337.EntryPointV06,
	}}
	router := newTestRouter(payments, &stubTokens{})

	status, resp := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 0, resp.Code)

	var info domain.AccountInfo
	require.NoError(t, json.Unmarshal(resp.Data, &info))
	assert.Equal(t, testAccount, info.Address)
	assert.Equal(t, int64(689), info.ChainID)
	assert.False(t, info.Deployed)
}

func TestGetAccount_NodeDown(t *testing.T) {
	payments := &stubPayments{err: domain.NewError(domain.ErrorCodeConnectivity,
		errors.New("dial tcp: connection refused"), domain.WithMsg("Network error"))}
	router := newTestRouter(payments, &stubTokens{})

	status, resp := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/account", nil))
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, 2003, resp.Code)
	assert.Equal(t, "Network error", resp.Message)
}

func TestGetTokens(t *testing.T) {
	tokens := &stubTokens{tokens: []domain.SupportedToken{
		{Address: testToken, Decimals: 6, Symbol: "USDC", Type: 1},
		{Address: common.HexToAddress("0x01"), Decimals: 18, Symbol: "DAI", Type: 2},
	}}

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantCode   int
		wantCount  int
		wantModes  []domain.PaymentMode
	}{
		{name: "all tokens", query: "", wantStatus: http.StatusOK, wantCount: 2},
		{name: "by mode name", query: "?mode=prepay", wantStatus: http.StatusOK, wantCount: 1, wantModes: []domain.PaymentMode{domain.PaymentModePrepay}},
		{name: "by mode code", query: "?mode=2", wantStatus: http.StatusOK, wantCount: 1, wantModes: []domain.PaymentMode{domain.PaymentModePostpay}},
		{name: "unknown mode", query: "?mode=free", wantStatus: http.StatusUnprocessableEntity, wantCode: 2001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens.modes = nil
			router := newTestRouter(&stubPayments{}, tokens)

			status, resp := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/tokens"+tt.query, nil))
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantModes, tokens.modes)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var list []domain.SupportedToken
			require.NoError(t, json.Unmarshal(resp.Data, &list))
			assert.Len(t, list, tt.wantCount)
		})
	}
}

func paymentRequest(t *testing.T, body interface{}, secret string) *http.Request {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set("X-API-Secret", secret)
	}
	return req
}

func TestCreatePayment(t *testing.T) {
	payments := &stubPayments{result: &domain.PaymentResult{
		PaymentID:       "2b0a7a4e-6c1e-4b7e-9d59-1f0f4f1d7c11",
		OpHash:          testOpHash,
		TransactionHash: testTxHash,
	}}
	router := newTestRouter(payments, &stubTokens{})

	body := map[string]string{
		"recipient": testRecipient.Hex(),
		"token":     testToken.Hex(),
		"amount":    "10.50",
		"mode":      "prepay",
	}
	status, resp := serve(t, router, paymentRequest(t, body, testSecret))
	require.Equal(t, http.StatusOK, status, resp.Message)

	var data PaymentResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, testOpHash.Hex(), data.OpHash)
	assert.Equal(t, testTxHash.Hex(), data.TransactionHash)
	assert.Equal(t, "https://explorer.example/tx/"+testTxHash.Hex(), data.ExplorerURL)

	require.Len(t, payments.requests, 1)
	assert.Equal(t, domain.PaymentRequest{
		Recipient: testRecipient,
		Token:     testToken,
		Amount:    "10.5",
		Mode:      domain.PaymentModePrepay,
	}, payments.requests[0])
}

func TestCreatePayment_DefaultsToSponsored(t *testing.T) {
	payments := &stubPayments{result: &domain.PaymentResult{OpHash: testOpHash, TransactionHash: testTxHash}}
	router := newTestRouter(payments, &stubTokens{})

	body := map[string]interface{}{
		"recipient": testRecipient.Hex(),
		"token":     testToken.Hex(),
		"amount":    1,
	}
	status, _ := serve(t, router, paymentRequest(t, body, testSecret))
	require.Equal(t, http.StatusOK, status)
	require.Len(t, payments.requests, 1)
	assert.Equal(t, domain.PaymentModeSponsored, payments.requests[0].Mode)
	assert.Equal(t, "1", payments.requests[0].Amount)
}

func TestCreatePayment_Rejected(t *testing.T) {
	valid := map[string]string{
		"recipient": testRecipient.Hex(),
		"token":     testToken.Hex(),
		"amount":    "1",
	}
	with := func(key, value string) map[string]string {
		body := map[string]string{}
		for k, v := range valid {
			body[k] = v
		}
		body[key] = value
		return body
	}

	tests := []struct {
		name       string
		body       interface{}
		secret     string
		wantStatus int
		wantCode   int
	}{
		{name: "missing secret", body: valid, wantStatus: http.StatusUnauthorized, wantCode: 1004},
		{name: "wrong secret", body: valid, secret: "nope", wantStatus: http.StatusUnauthorized, wantCode: 1004},
		{name: "malformed json", body: "{", secret: testSecret, wantStatus: http.StatusBadRequest, wantCode: 1001},
		{name: "missing recipient", body: with("recipient", ""), secret: testSecret, wantStatus: http.StatusBadRequest, wantCode: 1001},
		{name: "invalid token", body: with("token", "0x1234"), secret: testSecret, wantStatus: http.StatusBadRequest, wantCode: 1001},
		{name: "zero amount", body: with("amount", "0"), secret: testSecret, wantStatus: http.StatusBadRequest, wantCode: 1001},
		{name: "negative amount", body: with("amount", "-3"), secret: testSecret, wantStatus: http.StatusBadRequest, wantCode: 1001},
		{name: "unknown mode", body: with("mode", "free"), secret: testSecret, wantStatus: http.StatusUnprocessableEntity, wantCode: 2001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := &stubPayments{}
			router := newTestRouter(payments, &stubTokens{})

			status, resp := serve(t, router, paymentRequest(t, tt.body, tt.secret))
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Empty(t, payments.requests)
		})
	}
}

func TestCreatePayment_Failed(t *testing.T) {
	payments := &stubPayments{
		result: &domain.PaymentResult{
			PaymentID:       "2b0a7a4e-6c1e-4b7e-9d59-1f0f4f1d7c11",
			OpHash:          testOpHash,
			TransactionHash: testTxHash,
		},
		err: domain.NewError(domain.ErrorCodeRevert, errors.New("execution reverted: insufficient balance"),
			domain.WithMsg("Execution reverted: insufficient balance"), domain.WithStage(domain.StageClient)),
	}
	router := newTestRouter(payments, &stubTokens{})

	body := map[string]string{"recipient": testRecipient.Hex(), "token": testToken.Hex(), "amount": "1"}
	status, resp := serve(t, router, paymentRequest(t, body, testSecret))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, 2005, resp.Code)
	assert.Equal(t, "Execution reverted: insufficient balance", resp.Message)

	var data PaymentResponse
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "2b0a7a4e-6c1e-4b7e-9d59-1f0f4f1d7c11", data.PaymentID)
	assert.Equal(t, testOpHash.Hex(), data.OpHash)
}

func TestGetPayment(t *testing.T) {
	txHash := testTxHash.Hex()
	record := &domain.PaymentRecord{
		ID:              uuid.New(),
		AccountAddress:  testAccount.Hex(),
		Recipient:       testRecipient.Hex(),
		TokenAddress:    testToken.Hex(),
		Amount:          "10500000",
		Mode:            domain.PaymentModePrepay,
		ChainID:         689,
		Status:          domain.PaymentStatusConfirmed,
		TransactionHash: &txHash,
	}
	router := newTestRouter(&stubPayments{record: record}, &stubTokens{})

	tests := []struct {
		name       string
		id         string
		wantStatus int
		wantCode   int
	}{
		{name: "found", id: record.ID.String(), wantStatus: http.StatusOK},
		{name: "not found", id: uuid.NewString(), wantStatus: http.StatusNotFound, wantCode: 1002},
		{name: "invalid id", id: "not-a-uuid", wantStatus: http.StatusBadRequest, wantCode: 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := serve(t, router, httptest.NewRequest(http.MethodGet, "/api/v1/payments/"+tt.id, nil))
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}

			var data map[string]interface{}
			require.NoError(t, json.Unmarshal(resp.Data, &data))
			assert.Equal(t, "confirmed", data["status"])
			assert.Equal(t, "https://explorer.example/tx/"+txHash, data["explorerUrl"])
		})
	}
}
