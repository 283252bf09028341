package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mejaku/backend/internal/domain"
	"mejaku/backend/internal/service"
	"mejaku/backend/internal/store/memory"
)

func newTestAPI() (http.Handler, *memory.Store) {
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, 30*time.Second, 120*time.Second)
	auth := NewAuthManager(repo, 24*time.Hour)
	api := New(svc, auth, repo, "http://127.0.0.1:3000")
	return api.Handler(), repo
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope %q: %v", rec.Body.String(), err)
	}
	if !env.Success {
		t.Fatalf("expected success response, got error %q", env.Error)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		t.Fatalf("decode payload %q: %v", env.Data, err)
	}
}

func TestHealthz(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMenuIsPublic(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/menu", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var view domain.MenuView
	decodeBody(t, rec, &view)
	if len(view.Items) == 0 {
		t.Fatalf("expected seeded menu items")
	}
}

func TestLoginFlowOverHTTP(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Phone: "0811000003",
		PIN:   "999999",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong pin, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{
		Phone: "0811000003",
		PIN:   "461385",
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var login domain.LoginResponse
	decodeBody(t, rec, &login)
	if login.SessionToken == "" {
		t.Fatalf("expected session token")
	}

	bearer := map[string]string{"Authorization": "Bearer " + login.SessionToken}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh failed: %d %s", rec.Code, rec.Body.String())
	}
	var refreshed struct {
		User      domain.UserSummary `json:"user"`
		ExpiresAt string             `json:"expires_at"`
	}
	decodeBody(t, rec, &refreshed)
	if refreshed.User.ID == "" {
		t.Fatalf("expected user summary in refresh response")
	}
	if _, err := time.Parse(time.RFC3339, refreshed.ExpiresAt); err != nil {
		t.Fatalf("expected RFC3339 expires_at, got %q: %v", refreshed.ExpiresAt, err)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/logout", nil, bearer)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout failed: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/refresh", nil, bearer)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestGuestCheckinOrderAndBill(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/sessions/checkin", domain.CheckinRequest{
		GuestName:  "Sari",
		GuestPhone: "0811777001",
		TableName:  "T7",
		GuestCount: 3,
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkin failed: %d %s", rec.Code, rec.Body.String())
	}
	var checkin domain.SessionResponse
	decodeBody(t, rec, &checkin)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", domain.PlaceOrderRequest{
		SessionID: checkin.Session.ID,
		Items: []domain.OrderItemInput{
			{MenuItemID: "item-nasigoreng", Qty: 1},
			{MenuItemID: "item-esteh", Qty: 2},
		},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("order failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/sessions/request-bill", domain.RequestBillRequest{
		SessionID: checkin.Session.ID,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("request bill failed: %d %s", rec.Code, rec.Body.String())
	}

	// Anonymous guests cannot generate the bill themselves.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills/session", domain.GenerateBillRequest{
		SessionID: checkin.Session.ID,
	}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous billing, got %d", rec.Code)
	}

	staff := map[string]string{"X-User-ID": "user-staff"}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills/session", domain.GenerateBillRequest{
		SessionID: checkin.Session.ID,
	}, staff)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bill generation failed: %d %s", rec.Code, rec.Body.String())
	}
	var first domain.BillResponse
	decodeBody(t, rec, &first)
	if first.Bill.FinalTotalCents != 32000+2*8000 {
		t.Fatalf("unexpected total %d", first.Bill.FinalTotalCents)
	}

	// Repeat billing returns the same bill with 200.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/bills/session", domain.GenerateBillRequest{
		SessionID: checkin.Session.ID,
	}, staff)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing bill, got %d %s", rec.Code, rec.Body.String())
	}
	var second domain.BillResponse
	decodeBody(t, rec, &second)
	if !second.Existing || second.Bill.ID != first.Bill.ID {
		t.Fatalf("expected existing bill back, got %+v", second)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/bills/"+first.Bill.ID, nil, staff)
	if rec.Code != http.StatusOK {
		t.Fatalf("bill fetch failed: %d", rec.Code)
	}
}

func TestGenerateBillRequiresScopeID(t *testing.T) {
	handler, _ := newTestAPI()
	staff := map[string]string{"X-User-ID": "user-staff"}

	for _, path := range []string{"/api/v1/bills/order", "/api/v1/bills/session", "/api/v1/bills/user"} {
		rec := doJSON(t, handler, http.MethodPost, path, domain.GenerateBillRequest{}, staff)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 for missing id, got %d", path, rec.Code)
		}
	}
}

func TestKitchenEndpointsEnforceRole(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/kitchen/orders", nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for anonymous kitchen access, got %d", rec.Code)
	}

	kitchen := map[string]string{"X-User-ID": "user-kitchen"}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/kitchen/orders", nil, kitchen)
	if rec.Code != http.StatusOK {
		t.Fatalf("kitchen listing failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestAdminEndpointsEnforceRole(t *testing.T) {
	handler, _ := newTestAPI()

	staff := map[string]string{"X-User-ID": "user-staff"}
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/users", nil, staff)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on admin endpoint, got %d", rec.Code)
	}

	admin := map[string]string{"X-User-ID": "user-admin"}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/admin/users", nil, admin)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin user listing failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/admin/menu-items", domain.MenuItemCreateRequest{
		CategoryID: "cat-minuman",
		Name:       "Jus Alpukat",
		PriceCents: 18000,
	}, admin)
	if rec.Code != http.StatusCreated {
		t.Fatalf("menu item creation failed: %d %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownUserIDHeaderIsRejected(t *testing.T) {
	handler, _ := newTestAPI()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/menu", nil, map[string]string{"X-User-ID": "user-ghost"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown user id, got %d", rec.Code)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	handler, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/checkin", bytes.NewBufferString(`{"table_name":"T1","guest_name":"A","guest_phone":"08","surprise":true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestOrderUpdateOverHTTP(t *testing.T) {
	handler, repo := newTestAPI()

	order, err := repo.CreateOrder(context.Background(), domain.Order{
		ID:         "ord-http-edit",
		UserID:     "user-staff",
		Status:     domain.OrderStatusPending,
		TotalCents: 8000,
		CreatedAt:  time.Now().UTC(),
		Items:      []domain.OrderItem{{MenuItemID: "item-esteh", Qty: 1, UnitPriceCents: 8000}},
	})
	if err != nil {
		t.Fatalf("seed order failed: %v", err)
	}

	staff := map[string]string{"X-User-ID": "user-staff"}
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders/update", domain.UpdateOrderRequest{
		OrderID: order.ID,
		Items:   []domain.OrderItemInput{{MenuItemID: "item-esteh", Qty: 4}},
	}, staff)
	if rec.Code != http.StatusOK {
		t.Fatalf("order update failed: %d %s", rec.Code, rec.Body.String())
	}

	var resp domain.UpdateOrderResponse
	decodeBody(t, rec, &resp)
	if resp.TotalCents != 4*8000 {
		t.Fatalf("expected recomputed total, got %d", resp.TotalCents)
	}
}
