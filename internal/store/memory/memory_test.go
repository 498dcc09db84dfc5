package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"splmart/backend/internal/domain"
	"splmart/backend/internal/store"
)

func seedOne(t *testing.T, s *Store) domain.Product {
	t.Helper()
	created, err := s.CreateProduct(context.Background(), domain.Product{
		ID:   "prod-1",
		Slug: "test-phone",
		Name: "Test Phone",
		Variants: []domain.ProductVariant{
			{ID: "var-1", SKU: "TP-1", PriceCents: 50000, StockCount: 10, IsDefault: true},
		},
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}
	return *created
}

func addLine(t *testing.T, s *Store, userID string, product domain.Product, qty int) {
	t.Helper()
	_, err := s.UpsertCartLine(context.Background(), userID, domain.CartLine{
		ProductID:       product.ID,
		VariantID:       product.Variants[0].ID,
		Qty:             qty,
		PriceAtAddCents: product.Variants[0].PriceCents,
	})
	if err != nil {
		t.Fatalf("UpsertCartLine: %v", err)
	}
}

func checkoutParams(userID string) domain.CheckoutParams {
	return domain.CheckoutParams{
		UserID: userID,
		ShippingAddress: domain.ShippingAddress{
			Division: "Dhaka", District: "Dhaka", AddressLine1: "House 1",
		},
		PaymentMethod: domain.PaymentMethodCOD,
	}
}

func TestCheckoutFreezesCurrentPrice(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := seedOne(t, s)
	addLine(t, s, "usr-1", product, 2)

	// Price changes after the item is in the cart. The cart keeps the old
	// marker; the order must freeze at the new price.
	product.Variants[0].PriceCents = 65000
	if _, err := s.UpdateProduct(ctx, product); err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}

	order, err := s.CheckoutCart(ctx, checkoutParams("usr-1"))
	if err != nil {
		t.Fatalf("CheckoutCart: %v", err)
	}
	if order.Items[0].UnitPriceCents != 65000 {
		t.Fatalf("expected frozen price 65000, got %d", order.Items[0].UnitPriceCents)
	}
	if order.Pricing.ItemsTotalCents != 130000 {
		t.Fatalf("expected items total 130000, got %d", order.Pricing.ItemsTotalCents)
	}

	cart, err := s.GetCartByUser(ctx, "usr-1")
	if err != nil {
		t.Fatalf("GetCartByUser: %v", err)
	}
	if len(cart.Lines) != 0 {
		t.Fatalf("expected empty cart after checkout, got %d lines", len(cart.Lines))
	}
}

func TestCheckoutCouponFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := seedOne(t, s)
	addLine(t, s, "usr-1", product, 2)

	if _, err := s.CreateCoupon(ctx, domain.Coupon{
		ID: "coup-1", Code: "BIGMIN", Type: domain.CouponTypeFixed, Value: 1000,
		MinCartTotalCents: 99999999, IsActive: true,
	}); err != nil {
		t.Fatalf("CreateCoupon: %v", err)
	}

	params := checkoutParams("usr-1")
	params.CouponCode = "BIGMIN"
	_, err := s.CheckoutCart(ctx, params)
	if !domain.IsCouponError(err) {
		t.Fatalf("expected coupon error, got %v", err)
	}

	got, err := s.GetProductByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("GetProductByID: %v", err)
	}
	if got.Variants[0].StockCount != 10 {
		t.Fatalf("stock changed on failed checkout: %d", got.Variants[0].StockCount)
	}
	cart, _ := s.GetCartByUser(ctx, "usr-1")
	if len(cart.Lines) != 1 {
		t.Fatalf("cart changed on failed checkout: %d lines", len(cart.Lines))
	}
	coupon, _ := s.GetCouponByCode(ctx, "BIGMIN")
	if coupon.UsedCount != 0 {
		t.Fatalf("used count changed on failed checkout: %d", coupon.UsedCount)
	}
	entries, _ := s.ListLedger(ctx, product.ID, "", 0)
	if len(entries) != 0 {
		t.Fatalf("ledger written on failed checkout: %d entries", len(entries))
	}
}

func TestCheckoutOrderNumbersUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := seedOne(t, s)

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		addLine(t, s, "usr-1", product, 1)
		order, err := s.CheckoutCart(ctx, checkoutParams("usr-1"))
		if err != nil {
			t.Fatalf("CheckoutCart #%d: %v", i, err)
		}
		if seen[order.OrderNo] {
			t.Fatalf("duplicate order number %s", order.OrderNo)
		}
		seen[order.OrderNo] = true
	}
}

func TestUpdateProductPreservesStock(t *testing.T) {
	ctx := context.Background()
	s := New()
	product := seedOne(t, s)

	// A catalog edit carrying a stale stock count must not overwrite the
	// ledger-owned value.
	product.Name = "Renamed"
	product.Variants[0].StockCount = 999
	updated, err := s.UpdateProduct(ctx, product)
	if err != nil {
		t.Fatalf("UpdateProduct: %v", err)
	}
	if updated.Variants[0].StockCount != 10 {
		t.Fatalf("expected stock 10 preserved, got %d", updated.Variants[0].StockCount)
	}
	if updated.Name != "Renamed" {
		t.Fatalf("expected name update to apply")
	}
}

func TestRequestedReturnQtyExcludesRejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()

	mk := func(id string, qty int) domain.ReturnRequest {
		return domain.ReturnRequest{
			ID: id, OrderID: "ord-1", OrderNo: "SPL-20250101-1234", UserID: "usr-1",
			Items:     []domain.ReturnItem{{ProductID: "prod-1", VariantID: "var-1", Qty: qty}},
			Status:    domain.ReturnStatusRequested,
			CreatedAt: now, UpdatedAt: now,
		}
	}
	for _, rr := range []domain.ReturnRequest{mk("ret-1", 1), mk("ret-2", 2), mk("ret-3", 3)} {
		if _, err := s.CreateReturnRequest(ctx, rr); err != nil {
			t.Fatalf("CreateReturnRequest: %v", err)
		}
	}
	if _, err := s.UpdateReturnStatus(ctx, "ret-2", domain.ReturnStatusUpdateRequest{Status: domain.ReturnStatusRejected}); err != nil {
		t.Fatalf("UpdateReturnStatus: %v", err)
	}

	totals, err := s.GetRequestedReturnQty(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetRequestedReturnQty: %v", err)
	}
	if got := totals["prod-1|var-1"]; got != 4 {
		t.Fatalf("expected 4 (rejected excluded), got %d", got)
	}
}

func TestDuplicateSlugAndSKURejected(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedOne(t, s)

	_, err := s.CreateProduct(ctx, domain.Product{
		ID: "prod-2", Slug: "test-phone", Name: "Dup",
		Variants: []domain.ProductVariant{{ID: "var-2", SKU: "OTHER", PriceCents: 100, StockCount: 1}},
		IsActive: true,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate slug, got %v", err)
	}

	_, err = s.CreateProduct(ctx, domain.Product{
		ID: "prod-3", Slug: "other-phone", Name: "Dup SKU",
		Variants: []domain.ProductVariant{{ID: "var-3", SKU: "TP-1", PriceCents: 100, StockCount: 1}},
		IsActive: true,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate sku, got %v", err)
	}
}

func TestSeededStoreHasCatalogAndUsers(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	products, err := s.ListProducts(ctx, false)
	if err != nil {
		t.Fatalf("ListProducts: %v", err)
	}
	if len(products) == 0 {
		t.Fatal("expected seeded products")
	}
	for _, p := range products {
		if len(p.Variants) == 0 {
			t.Fatalf("seeded product %s has no variants", p.Slug)
		}
	}

	if _, err := s.GetUserByEmail(ctx, "admin@splmart.test"); err != nil {
		t.Fatalf("expected seeded admin user: %v", err)
	}
	if _, err := s.GetUserByEmail(ctx, "customer@splmart.test"); err != nil {
		t.Fatalf("expected seeded customer user: %v", err)
	}
}
