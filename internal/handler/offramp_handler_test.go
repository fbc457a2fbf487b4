package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/errno"
	"offramp-core/pkg/validator"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	validator.Init()
	os.Exit(m.Run())
}

type stubService struct {
	created *offramp.CreateAddressInput
	tx      *model.OfframpTransaction
	err     error
}

func (s *stubService) CreateAddress(ctx context.Context, in offramp.CreateAddressInput) (*model.OfframpTransaction, error) {
	s.created = &in
	return s.tx, s.err
}

func (s *stubService) Status(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	return s.tx, s.err
}

func (s *stubService) Restart(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	return s.tx, s.err
}

type stubEnqueuer struct {
	calls []string
	err   error
}

func (e *stubEnqueuer) EnqueueAdvance(ctx context.Context, txID, reason string) error {
	e.calls = append(e.calls, txID+":"+reason)
	return e.err
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setup(svc OfframpService, enq Enqueuer) *gin.Engine {
	r := gin.New()
	h := NewOfframpHandler(svc, enq, "NGN")
	api := r.Group("/api/v1")
	api.POST("/offramp/address", h.CreateAddress)
	api.GET("/offramp/:id", h.GetTransaction)
	api.POST("/offramp/:id/advance", h.Advance)
	api.POST("/admin/offramp/:id/restart", h.Restart)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) envelope {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestCreateAddress(t *testing.T) {
	svc := &stubService{tx: &model.OfframpTransaction{
		ID:            "tx-1",
		WalletAddress: "0x9858EfFD232B4033E47d90003D41EC34EcaEda94",
		Network:       model.NetworkBase,
		Status:        model.StatusPending,
		DerivationID:  "user-1",
	}}
	r := setup(svc, &stubEnqueuer{})

	env := do(t, r, http.MethodPost, "/api/v1/offramp/address", gin.H{
		"user_id":        "user-1",
		"network":        "base",
		"account_number": "0123456789",
		"bank_code":      "058",
		"account_name":   "Ada Obi",
	})
	assert.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), `"wallet_address":"0x9858EfFD232B4033E47d90003D41EC34EcaEda94"`)
	assert.NotContains(t, string(env.Data), "derivation_id")

	require.NotNil(t, svc.created)
	assert.Equal(t, model.NetworkBase, svc.created.Network)
	assert.Equal(t, "NGN", svc.created.Currency)
	assert.Equal(t, "user-1", *svc.created.UserID)
}

func TestCreateAddress_Validation(t *testing.T) {
	tests := []struct {
		name string
		body gin.H
	}{
		{"missing network", gin.H{"account_number": "0123456789", "bank_code": "058"}},
		{"unknown network", gin.H{"network": "solana", "account_number": "0123456789", "bank_code": "058"}},
		{"short account", gin.H{"network": "base", "account_number": "12345", "bank_code": "058"}},
		{"bad bank code", gin.H{"network": "base", "account_number": "0123456789", "bank_code": "0-5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{}
			env := do(t, setup(svc, &stubEnqueuer{}), http.MethodPost, "/api/v1/offramp/address", tt.body)
			assert.Equal(t, errno.ErrBind.Code, env.Code)
			assert.Nil(t, svc.created)
		})
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: tx-9", offramp.ErrNotFound), errno.ErrTransactionNotFound.Code},
		{offramp.ErrUnsupportedNetwork, errno.ErrUnsupportedNetwork.Code},
		{offramp.ErrWalletBusy, errno.ErrWalletBusy.Code},
		{offramp.ErrPipelineBusy, errno.ErrPipelineBusy.Code},
		{fmt.Errorf("%w: completed", offramp.ErrCannotRestart), errno.ErrCannotRestart.Code},
		{errors.New("boom"), errno.InternalServerError.Code},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			env := do(t, setup(&stubService{err: tt.err}, &stubEnqueuer{}), http.MethodPost, "/api/v1/admin/offramp/tx-9/restart", nil)
			assert.Equal(t, tt.want, env.Code)
		})
	}
}

func TestAdvance(t *testing.T) {
	t.Run("enqueues", func(t *testing.T) {
		enq := &stubEnqueuer{}
		svc := &stubService{tx: &model.OfframpTransaction{ID: "tx-1", Status: model.StatusPending}}
		env := do(t, setup(svc, enq), http.MethodPost, "/api/v1/offramp/tx-1/advance", nil)

		assert.Equal(t, errno.OK.Code, env.Code)
		assert.JSONEq(t, `{"id":"tx-1","status":"pending","queued":true}`, string(env.Data))
		assert.Equal(t, []string{"tx-1:api"}, enq.calls)
	})

	t.Run("terminal is not queued", func(t *testing.T) {
		enq := &stubEnqueuer{}
		svc := &stubService{tx: &model.OfframpTransaction{ID: "tx-1", Status: model.StatusCompleted}}
		env := do(t, setup(svc, enq), http.MethodPost, "/api/v1/offramp/tx-1/advance", nil)

		assert.JSONEq(t, `{"id":"tx-1","status":"completed","queued":false}`, string(env.Data))
		assert.Empty(t, enq.calls)
	})

	t.Run("queue unavailable", func(t *testing.T) {
		svc := &stubService{tx: &model.OfframpTransaction{ID: "tx-1", Status: model.StatusSwapping}}
		env := do(t, setup(svc, &stubEnqueuer{err: errors.New("redis down")}), http.MethodPost, "/api/v1/offramp/tx-1/advance", nil)
		assert.Equal(t, errno.ErrServiceBusy.Code, env.Code)
	})
}

func TestRestart(t *testing.T) {
	enq := &stubEnqueuer{}
	svc := &stubService{tx: &model.OfframpTransaction{ID: "tx-1", Status: model.StatusTokenReceived, RestartCount: 1}}
	env := do(t, setup(svc, enq), http.MethodPost, "/api/v1/admin/offramp/tx-1/restart", nil)

	assert.Equal(t, errno.OK.Code, env.Code)
	assert.JSONEq(t, `{"id":"tx-1","status":"token_received","queued":true}`, string(env.Data))
	assert.Equal(t, []string{"tx-1:restart"}, enq.calls)
}

func TestGetTransaction(t *testing.T) {
	ref := "TRF_1"
	svc := &stubService{tx: &model.OfframpTransaction{ID: "tx-1", Status: model.StatusCompleted, PayoutReference: &ref, RecipientCode: "RCP_secret"}}
	env := do(t, setup(svc, &stubEnqueuer{}), http.MethodGet, "/api/v1/offramp/tx-1", nil)

	assert.Equal(t, errno.OK.Code, env.Code)
	assert.Contains(t, string(env.Data), `"payout_reference":"TRF_1"`)
	assert.NotContains(t, string(env.Data), "RCP_secret")
}
