package shared

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"affiliate-ledger/internal/config"
	"affiliate-ledger/internal/models"
	"affiliate-ledger/internal/repositories/memory"
	"affiliate-ledger/internal/services"
	"affiliate-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func newTrackingRouter(t *testing.T) (*gin.Engine, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	log := logger.Discard()
	cfg := &config.TrackingConfig{ClickRecordTimeout: time.Second, DefaultCookieDays: 30, SignupEventName: "signup"}

	vendors := []*models.Vendor{
		{ID: "v1", Name: "Acme", CommissionType: models.CommissionTypePercentage, CommissionValue: decimal.NewFromInt(10), CookieDuration: 7, IsActive: true, DestinationURL: "https://acme.example/shop?lang=en"},
		{ID: "v-off", Name: "Closed", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(5), IsActive: false, DestinationURL: "https://closed.example"},
		{ID: "v-nowhere", Name: "No Site", CommissionType: models.CommissionTypeFixed, CommissionValue: decimal.NewFromInt(5), IsActive: true},
	}
	for _, v := range vendors {
		if err := store.Vendors().Save(context.Background(), v); err != nil {
			t.Fatalf("save vendor: %v", err)
		}
	}

	h := NewTrackingHandler(
		services.NewClickService(cfg, store.Vendors(), store.Sessions(), log),
		services.NewTrackingService(cfg, store.Sessions(), store.Signups(), log),
		services.NewProgramService(store.Vendors()),
		log,
	)

	r := gin.New()
	r.GET("/go/:affiliateId/:vendorId", h.RedirectClick)
	r.POST("/track", h.TrackEvent)
	r.GET("/programs/:vendorId", h.GetProgram)
	return r, store
}

func TestRedirectClick(t *testing.T) {
	r, store := newTrackingRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/go/aff-1/v1", nil))

	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want 302 (%s)", w.Code, w.Body.String())
	}
	if got, want := w.Header().Get("Location"), "https://acme.example/shop?lang=en&ref=aff-1"; got != want {
		t.Fatalf("location = %q, want %q", got, want)
	}

	session, err := store.Sessions().FindLatestByAffiliate(context.Background(), "aff-1")
	if err != nil {
		t.Fatalf("session not recorded: %v", err)
	}
	if session.VendorID != "v1" || session.ExpiresAt.Sub(session.CreatedAt) != 7*24*time.Hour {
		t.Fatalf("unexpected session %+v", session)
	}
}

func TestRedirectClickNotFound(t *testing.T) {
	r, _ := newTrackingRouter(t)

	for _, path := range []string{"/go/aff-1/missing", "/go/aff-1/v-off", "/go/aff-1/v-nowhere"} {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

			if w.Code != http.StatusNotFound {
				t.Fatalf("status = %d, want 404", w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Fatalf("content type = %q, want json", ct)
			}
		})
	}
}

func TestTrackEvent(t *testing.T) {
	r, _ := newTrackingRouter(t)

	track := func(body string) (*httptest.ResponseRecorder, models.TrackEventResult) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/track", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)

		var result models.TrackEventResult
		_ = json.Unmarshal(w.Body.Bytes(), &result)
		return w, result
	}

	if w, _ := track(`{"referral_id":"aff-1","event_name":"signup"}`); w.Code != http.StatusNotFound {
		t.Fatalf("signup without session: status = %d, want 404", w.Code)
	}

	click := httptest.NewRecorder()
	r.ServeHTTP(click, httptest.NewRequest(http.MethodGet, "/go/aff-1/v1", nil))

	w, result := track(`{"referral_id":"aff-1","event_name":"signup","metadata":{"plan":"pro"}}`)
	if w.Code != http.StatusOK || !result.Success || !result.Recorded {
		t.Fatalf("first signup: %d %+v", w.Code, result)
	}
	if !result.Signup.CommissionAmount.IsZero() {
		t.Fatalf("signup commission = %s, want 0", result.Signup.CommissionAmount)
	}

	w, result = track(`{"referral_id":"aff-1","event_name":"signup"}`)
	if w.Code != http.StatusOK || result.Recorded {
		t.Fatalf("repeat signup: %d %+v, want recorded=false", w.Code, result)
	}

	w, result = track(`{"referral_id":"aff-1","event_name":"page_view"}`)
	if w.Code != http.StatusOK || result.Recorded {
		t.Fatalf("other event: %d %+v, want recorded=false", w.Code, result)
	}

	for _, body := range []string{`{"event_name":"signup"}`, `{"referral_id":"aff-1"}`, `not json`} {
		if w, _ := track(body); w.Code != http.StatusBadRequest {
			t.Errorf("body %s: status = %d, want 400", body, w.Code)
		}
	}
}

func TestGetProgram(t *testing.T) {
	r, _ := newTrackingRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/programs/v1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Data models.Program `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.VendorID != "v1" || !resp.Data.CommissionValue.Equal(decimal.NewFromInt(10)) || resp.Data.CookieDuration != 7 {
		t.Fatalf("unexpected program %+v", resp.Data)
	}

	for _, id := range []string{"missing", "v-off"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/programs/"+id, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", id, w.Code)
		}
	}
}
