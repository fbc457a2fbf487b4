package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offramp-core/internal/handler"
	"offramp-core/internal/model"
	"offramp-core/internal/service/offramp"
)

type nopService struct{}

func (nopService) CreateAddress(ctx context.Context, in offramp.CreateAddressInput) (*model.OfframpTransaction, error) {
	return nil, offramp.ErrUnsupportedNetwork
}

func (nopService) Status(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	return nil, offramp.ErrNotFound
}

func (nopService) Restart(ctx context.Context, id string) (*model.OfframpTransaction, error) {
	return nil, offramp.ErrNotFound
}

type nopEnqueuer struct{}

func (nopEnqueuer) EnqueueAdvance(ctx context.Context, txID, reason string) error { return nil }

func TestNewHTTPRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewHTTPRouter(handler.NewOfframpHandler(nopService{}, nopEnqueuer{}, "NGN"))

	cases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/health", `"status":"UP"`},
		{http.MethodGet, "/api/v1/offramp/tx-1", `"code":30101`},
		{http.MethodPost, "/api/v1/admin/offramp/tx-1/restart", `"code":30101`},
		{http.MethodGet, "/metrics", "http_requests_total"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, err := http.NewRequest(tc.method, tc.path, nil)
			require.NoError(t, err)
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}
