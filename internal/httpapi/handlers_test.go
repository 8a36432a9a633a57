package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"imapos/backend/internal/cache"
	"imapos/backend/internal/domain"
	"imapos/backend/internal/reporting"
	"imapos/backend/internal/service"
	"imapos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	reports := reporting.New(repo, cache.NoopReportCache{}, nil)
	svc := service.New(repo, reports, nil)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

// loginAs obtains a bearer token through the real login endpoint.
func loginAs(t *testing.T, handler http.Handler, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

// authedJSON fires an authenticated JSON request with a valid CSRF token.
func authedJSON(t *testing.T, api *API, handler http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", api.generateCSRFToken())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// The loginLimiter allows 5 attempts per minute from one address.
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleItems_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleItems_WithValidToken(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/items", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["items"] == nil {
		t.Fatalf("expected items key in response, got %v", body)
	}
}

func TestHandleBills_CompleteAndLookup(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"lines": []map[string]any{
			{"itemId": "item-soap-bar", "name": "Laundry Soap Bar", "qty": 2, "salePriceCents": 9000},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Receipt domain.BillReceipt `json:"receipt"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if created.Receipt.GrandTotalCents != 18000 {
		t.Fatalf("expected grand total 18000, got %d", created.Receipt.GrandTotalCents)
	}

	lookup := httptest.NewRequest(http.MethodGet, "/api/v1/bills/"+created.Receipt.BillNumber, nil)
	lookup.Header.Set("Authorization", "Bearer "+token)
	lookupRec := httptest.NewRecorder()
	handler.ServeHTTP(lookupRec, lookup)

	if lookupRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", lookupRec.Code, lookupRec.Body.String())
	}
}

func TestHandleBills_InsufficientStockConflict(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	// item-soda-15l is seeded with stock 8.
	rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"lines": []map[string]any{
			{"itemId": "item-soda-15l", "qty": 9, "salePriceCents": 30000},
		},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		ItemID    string `json:"itemId"`
		Available int64  `json:"available"`
		Requested int64  `json:"requested"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.ItemID != "item-soda-15l" || body.Available != 8 || body.Requested != 9 {
		t.Fatalf("unexpected conflict detail: %+v", body)
	}
}

func TestHandleBills_EmptyCartBadRequest(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"lines": []map[string]any{},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleItemDelete_CashierForbidden(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "cashier", "cashier123")

	rec := authedJSON(t, api, handler, http.MethodDelete, "/api/v1/items/item-soap-bar", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleUsers_AdminOnly(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	cashierToken := loginAs(t, handler, "cashier", "cashier123")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.Header.Set("Authorization", "Bearer "+cashierToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	adminToken := loginAs(t, handler, "admin", "admin123")
	adminReq := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	adminReq.Header.Set("Authorization", "Bearer "+adminToken)
	adminRec := httptest.NewRecorder()
	handler.ServeHTTP(adminRec, adminReq)
	if adminRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", adminRec.Code, adminRec.Body.String())
	}
}

func TestHandleUnknownBill_NotFound(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills/20260101-9999", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStockAdd_AdminFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/items/item-soda-15l/stock", token, map[string]any{
		"qty": 12,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Item domain.Item `json:"item"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Item.Stock != 20 {
		t.Fatalf("expected stock 20, got %d", body.Item.Stock)
	}
}

func TestHandleReports_TopItemsAfterSale(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
		"lines": []map[string]any{
			{"itemId": "item-tea-200g", "name": "Ceylon Tea 200g", "qty": 3, "salePriceCents": 54000},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("bill failed: %d %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/top-items?range=today", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	reportRec := httptest.NewRecorder()
	handler.ServeHTTP(reportRec, req)

	if reportRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", reportRec.Code, reportRec.Body.String())
	}
	var body struct {
		TopItems []domain.TopItem `json:"topItems"`
	}
	if err := json.NewDecoder(reportRec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.TopItems) != 1 || body.TopItems[0].ItemID != "item-tea-200g" {
		t.Fatalf("unexpected top items: %+v", body.TopItems)
	}
}

func TestHandleBills_RangeFilter(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	for i := 0; i < 2; i++ {
		rec := authedJSON(t, api, handler, http.MethodPost, "/api/v1/bills", token, map[string]any{
			"lines": []map[string]any{
				{"itemId": "item-soap-bar", "qty": 1, "salePriceCents": 9000},
			},
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("bill %d failed: %d %s", i, rec.Code, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills?range=today", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Bills []domain.Bill `json:"bills"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Bills) != 2 {
		t.Fatalf("expected 2 bills today, got %d", len(body.Bills))
	}

	yesterday := httptest.NewRequest(http.MethodGet, "/api/v1/bills?range=yesterday", nil)
	yesterday.Header.Set("Authorization", "Bearer "+token)
	yRec := httptest.NewRecorder()
	handler.ServeHTTP(yRec, yesterday)
	var yBody struct {
		Bills []domain.Bill `json:"bills"`
	}
	if err := json.NewDecoder(yRec.Body).Decode(&yBody); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(yBody.Bills) != 0 {
		t.Fatalf("expected no bills yesterday, got %d", len(yBody.Bills))
	}
}

func TestHandleUnknownItemAction(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/items/%s/forecast", "item-soap-bar"), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown item action, got %d", rec.Code)
	}
}
