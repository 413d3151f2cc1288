package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/internal/utils"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockAdminService struct {
	getConversion  func(ctx context.Context, id string) (*services.ConversionDetail, error)
	listCommission func(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error)
	listOutbox     func(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error)
	retryOutbox    func(ctx context.Context, id string) error
}

func (m *mockAdminService) GetConversion(ctx context.Context, id string) (*services.ConversionDetail, error) {
	return m.getConversion(ctx, id)
}

func (m *mockAdminService) ListAffiliateCommissions(ctx context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error) {
	return m.listCommission(ctx, affiliateID, params)
}

func (m *mockAdminService) ListOutboxTasks(ctx context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
	return m.listOutbox(ctx, status, limit)
}

func (m *mockAdminService) RetryOutboxTask(ctx context.Context, id string) error {
	return m.retryOutbox(ctx, id)
}

func serve(svc services.AdminService, method, target string) *httptest.ResponseRecorder {
	h := NewLedgerHandler(svc, logger.Discard())
	r := gin.New()
	r.GET("/conversions/:id", h.GetConversion)
	r.GET("/affiliates/:affiliateId/commissions", h.ListAffiliateCommissions)
	r.GET("/outbox", h.ListOutboxTasks)
	r.POST("/outbox/:id/retry", h.RetryOutboxTask)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestGetConversion(t *testing.T) {
	svc := &mockAdminService{getConversion: func(_ context.Context, id string) (*services.ConversionDetail, error) {
		switch id {
		case "c1":
			return &services.ConversionDetail{Conversion: &models.Conversion{ID: "c1", Status: models.ConversionStatusConfirmed}}, nil
		case "broken":
			return nil, errors.New("store down")
		}
		return nil, services.ErrConversionNotFound
	}}

	tests := []struct {
		id   string
		want int
	}{
		{"c1", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"broken", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if w := serve(svc, http.MethodGet, "/conversions/"+tt.id); w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.id, w.Code, tt.want)
		}
	}
}

func TestListAffiliateCommissions(t *testing.T) {
	var gotAffiliate string
	var gotParams *utils.PaginationParams
	svc := &mockAdminService{listCommission: func(_ context.Context, affiliateID string, params *utils.PaginationParams) ([]*models.Commission, int64, error) {
		gotAffiliate, gotParams = affiliateID, params
		return []*models.Commission{
			{ID: "k1", AffiliateID: affiliateID, CommissionAmount: decimal.RequireFromString("12.00"), Status: models.CommissionStatusPending},
		}, 21, nil
	}}

	w := serve(svc, http.MethodGet, "/affiliates/aff-1/commissions?page=2&page_size=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", w.Code, w.Body.String())
	}
	if gotAffiliate != "aff-1" || gotParams.Page != 2 || gotParams.PageSize != 10 {
		t.Fatalf("called with %q %+v", gotAffiliate, gotParams)
	}

	var resp utils.APIResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	p := resp.Meta.Pagination
	if p.Total != 21 || p.TotalPages != 3 || !p.HasNext || !p.HasPrevious {
		t.Fatalf("pagination = %+v", p)
	}
}

func TestListOutboxTasks(t *testing.T) {
	var gotStatus models.OutboxTaskStatus
	var gotLimit int
	svc := &mockAdminService{listOutbox: func(_ context.Context, status models.OutboxTaskStatus, limit int) ([]*models.OutboxTask, error) {
		gotStatus, gotLimit = status, limit
		if status == "bogus" {
			return nil, fmt.Errorf("%w: unknown outbox status", services.ErrInvalidEvent)
		}
		return []*models.OutboxTask{{ID: "t1", Status: status}}, nil
	}}

	if w := serve(svc, http.MethodGet, "/outbox"); w.Code != http.StatusOK {
		t.Fatalf("default: status = %d", w.Code)
	}
	if gotStatus != models.OutboxStatusDead || gotLimit != defaultOutboxLimit {
		t.Fatalf("default query = %s/%d, want dead/%d", gotStatus, gotLimit, defaultOutboxLimit)
	}

	if w := serve(svc, http.MethodGet, "/outbox?status=pending&limit=5"); w.Code != http.StatusOK || gotStatus != models.OutboxStatusPending || gotLimit != 5 {
		t.Fatalf("pending: status = %d, query = %s/%d", w.Code, gotStatus, gotLimit)
	}
	if w := serve(svc, http.MethodGet, "/outbox?status=bogus"); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status: %d, want 400", w.Code)
	}
	for _, limit := range []string{"0", "abc", "1000"} {
		if w := serve(svc, http.MethodGet, "/outbox?limit="+limit); w.Code != http.StatusBadRequest {
			t.Errorf("limit %s: status = %d, want 400", limit, w.Code)
		}
	}
}

func TestRetryOutboxTask(t *testing.T) {
	svc := &mockAdminService{retryOutbox: func(_ context.Context, id string) error {
		if id == "dead-1" {
			return nil
		}
		return interfaces.ErrNotFound
	}}

	if w := serve(svc, http.MethodPost, "/outbox/dead-1/retry"); w.Code != http.StatusOK {
		t.Fatalf("retry dead task: status = %d", w.Code)
	}
	if w := serve(svc, http.MethodPost, "/outbox/pending-1/retry"); w.Code != http.StatusNotFound {
		t.Fatalf("retry non-dead task: status = %d, want 404", w.Code)
	}
}
