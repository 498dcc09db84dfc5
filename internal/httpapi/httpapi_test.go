package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"splmart/backend/internal/domain"
	"splmart/backend/internal/service"
	"splmart/backend/internal/store"
	"splmart/backend/internal/store/memory"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	repo := memory.NewSeeded()
	svc := service.New(repo, nil, zap.NewNop(), time.Second)
	auth := NewAuthManager("test-secret-0123456789abcdef-0123456789", time.Hour, repo)
	return New(svc, auth, zap.NewNop(), "").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func loginToken(t *testing.T, handler http.Handler, email string, password string) string {
	t.Helper()
	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: email, Password: password})
	if rec.Code != http.StatusOK {
		t.Fatalf("login for %s returned %d: %s", email, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	return resp.AccessToken
}

func TestHealth(t *testing.T) {
	handler := newTestHandler(t)
	rec := doJSON(t, handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestAuthRequiredOnCart(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/cart", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cart", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", rec.Code)
	}
}

func TestSignupAndLogin(t *testing.T) {
	handler := newTestHandler(t)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/auth/signup", "", domain.SignupRequest{
		Name: "New User", Email: "new@example.com", Password: "longenough123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(t, rec, &resp)
	if resp.AccessToken == "" || resp.Role != domain.RoleCustomer {
		t.Fatalf("unexpected signup response: %+v", resp)
	}

	// Duplicate email conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/signup", "", domain.SignupRequest{
		Name: "Dup", Email: "new@example.com", Password: "longenough123",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate signup, got %d", rec.Code)
	}

	// Short password rejected.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/auth/signup", "", domain.SignupRequest{
		Name: "Weak", Email: "weak@example.com", Password: "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for weak password, got %d", rec.Code)
	}

	token := loginToken(t, handler, "new@example.com", "longenough123")
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/cart", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for cart with token, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminRouteForbiddenForCustomer(t *testing.T) {
	handler := newTestHandler(t)
	token := loginToken(t, handler, "customer@splmart.test", "customer123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/admin/orders", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer on admin route, got %d", rec.Code)
	}
}

func TestCheckoutEndToEnd(t *testing.T) {
	handler := newTestHandler(t)
	token := loginToken(t, handler, "customer@splmart.test", "customer123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list products returned %d", rec.Code)
	}
	var listing struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &listing)
	if len(listing.Products) == 0 {
		t.Fatal("expected seeded products")
	}
	product := listing.Products[0]
	variant := product.Variants[0]

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", token, domain.AddCartItemRequest{
		ProductID: product.ID, VariantID: variant.ID, Qty: 2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add to cart returned %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CheckoutRequest{
		ShippingAddress: domain.ShippingAddress{
			RecipientName: "Demo", Phone: "01700000000",
			Division: "Dhaka", District: "Dhaka", AddressLine1: "House 1",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout returned %d: %s", rec.Code, rec.Body.String())
	}
	var order domain.Order
	decodeBody(t, rec, &order)
	if order.OrderNo == "" || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order: %+v", order)
	}
	if order.Pricing.ItemsTotalCents != variant.PriceCents*2 {
		t.Fatalf("expected items total %d, got %d", variant.PriceCents*2, order.Pricing.ItemsTotalCents)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/"+order.OrderNo, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get order returned %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/orders/my", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("my orders returned %d", rec.Code)
	}
	var mine struct {
		Orders []domain.Order `json:"orders"`
	}
	decodeBody(t, rec, &mine)
	if len(mine.Orders) != 1 {
		t.Fatalf("expected 1 order, got %d", len(mine.Orders))
	}

	// Checkout again with an empty cart fails with 400.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, domain.CheckoutRequest{
		ShippingAddress: domain.ShippingAddress{Division: "Dhaka", District: "Dhaka", AddressLine1: "House 1"},
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty cart, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAdminOrderStatusUpdate(t *testing.T) {
	handler := newTestHandler(t)
	custToken := loginToken(t, handler, "customer@splmart.test", "customer123")
	adminToken := loginToken(t, handler, "admin@splmart.test", "admin123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/products", "", nil)
	var listing struct {
		Products []domain.Product `json:"products"`
	}
	decodeBody(t, rec, &listing)
	product := listing.Products[0]

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/cart/items", custToken, domain.AddCartItemRequest{
		ProductID: product.ID, VariantID: product.Variants[0].ID, Qty: 1,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("add to cart returned %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders", custToken, domain.CheckoutRequest{
		ShippingAddress: domain.ShippingAddress{Division: "Dhaka", District: "Dhaka", AddressLine1: "House 1"},
		PaymentMethod:   domain.PaymentMethodCOD,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("checkout returned %d", rec.Code)
	}
	var order domain.Order
	decodeBody(t, rec, &order)

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/admin/orders/"+order.OrderNo+"/status", adminToken,
		domain.OrderStatusUpdateRequest{Status: domain.OrderStatusConfirmed})
	if rec.Code != http.StatusOK {
		t.Fatalf("status update returned %d: %s", rec.Code, rec.Body.String())
	}
	var updated domain.Order
	decodeBody(t, rec, &updated)
	if updated.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", updated.Status)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/admin/orders/"+order.OrderNo+"/status", adminToken,
		domain.OrderStatusUpdateRequest{Status: "bogus"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bogus status, got %d", rec.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrUnauthorized, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{store.ErrValidation, http.StatusBadRequest},
		{store.ErrNotFound, http.StatusNotFound},
		{store.ErrConflict, http.StatusConflict},
		{store.ErrInsufficientStock, http.StatusConflict},
		{domain.NewCouponError("X", domain.CouponReasonExpired), http.StatusBadRequest},
		{http.ErrBodyNotAllowed, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestTokenRoundTrip(t *testing.T) {
	repo := memory.New()
	auth := NewAuthManager("another-test-secret-0123456789abcdef", time.Hour, repo)

	resp, err := auth.Signup(httptest.NewRequest(http.MethodGet, "/", nil).Context(), domain.SignupRequest{
		Name: "RT", Email: "rt@example.com", Password: "longenough123",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.Role != domain.RoleCustomer || actor.Email != "rt@example.com" || actor.UserID == "" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := auth.ParseToken(resp.AccessToken + "tampered"); err == nil {
		t.Fatal("expected tampered token to be rejected")
	}
}
