package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"splmart/backend/internal/domain"
	"splmart/backend/internal/orderno"
	"splmart/backend/internal/store"
	"splmart/backend/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. A single
// RWMutex serializes checkout end to end, which gives the same
// stock-validation/decrement atomicity the postgres store gets from
// serializable transactions and row locks.
type Store struct {
	mu               sync.RWMutex
	productsByID     map[string]domain.Product
	productIDBySlug  map[string]string
	variantSKUs      map[string]string
	cartsByUser      map[string]domain.Cart
	ordersByID       map[string]domain.Order
	orderIDByNo      map[string]string
	ledger           []domain.LedgerEntry
	couponsByID      map[string]domain.Coupon
	couponIDByCode   map[string]string
	returnsByID      map[string]domain.ReturnRequest
	restockedOrders  map[string]bool
	restockedReturns map[string]bool
	usersByEmail     map[string]domain.UserAccount
	auditLogs        []domain.AuditLog
}

func New() *Store {
	return &Store{
		productsByID:     make(map[string]domain.Product),
		productIDBySlug:  make(map[string]string),
		variantSKUs:      make(map[string]string),
		cartsByUser:      make(map[string]domain.Cart),
		ordersByID:       make(map[string]domain.Order),
		orderIDByNo:      make(map[string]string),
		couponsByID:      make(map[string]domain.Coupon),
		couponIDByCode:   make(map[string]string),
		returnsByID:      make(map[string]domain.ReturnRequest),
		restockedOrders:  make(map[string]bool),
		restockedReturns: make(map[string]bool),
		usersByEmail:     make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CUSTOMER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. The in-memory store
// is never used when DATABASE_URL is set.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	customerPwd := envOr("SEED_CUSTOMER_PASSWORD", "customer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CUSTOMER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CUSTOMER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		email    string
		name     string
		password string
		role     string
	}{
		{"admin@splmart.test", "Admin", adminPwd, domain.RoleAdmin},
		{"customer@splmart.test", "Demo Customer", customerPwd, domain.RoleCustomer},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users[u.email] = domain.UserAccount{
			ID:           xid.New("usr"),
			Email:        u.email,
			PasswordHash: string(hash),
			Name:         u.name,
			Role:         u.role,
			Active:       true,
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	s.usersByEmail = seedUsers()

	now := time.Now().UTC()
	products := []domain.Product{
		{
			ID: "prod-aurora-x5", Slug: "aurora-x5", Name: "Aurora X5",
			Description: "6.7-inch AMOLED smartphone", BasePriceCents: 4599900,
			Variants: []domain.ProductVariant{
				{ID: "var-aurx5-128-blk", SKU: "AUR-X5-128-BLK", PriceCents: 4599900, StockCount: 18, Attributes: map[string]string{"storage": "128GB", "color": "black"}, IsDefault: true},
				{ID: "var-aurx5-256-blu", SKU: "AUR-X5-256-BLU", PriceCents: 5199900, StockCount: 9, Attributes: map[string]string{"storage": "256GB", "color": "blue"}},
			},
			Tags: []string{"smartphone"}, IsActive: true, IsFeatured: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-volt-buds", Slug: "volt-buds-pro", Name: "Volt Buds Pro",
			Description: "ANC wireless earbuds", BasePriceCents: 789900,
			Variants: []domain.ProductVariant{
				{ID: "var-vbuds-wht", SKU: "VBP-WHT", PriceCents: 789900, StockCount: 40, Attributes: map[string]string{"color": "white"}, IsDefault: true},
				{ID: "var-vbuds-blk", SKU: "VBP-BLK", PriceCents: 789900, StockCount: 32, Attributes: map[string]string{"color": "black"}},
			},
			Tags: []string{"audio"}, IsActive: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-nimbus-pad", Slug: "nimbus-pad-11", Name: "Nimbus Pad 11",
			Description: "11-inch tablet with stylus support", BasePriceCents: 3249900,
			Variants: []domain.ProductVariant{
				{ID: "var-npad-64", SKU: "NP11-64-GRY", PriceCents: 3249900, StockCount: 12, Attributes: map[string]string{"storage": "64GB"}, IsDefault: true},
			},
			Tags: []string{"tablet"}, IsActive: true, CreatedAt: now, UpdatedAt: now,
		},
		{
			ID: "prod-zephyr-65", Slug: "zephyr-charger-65w", Name: "Zephyr 65W GaN Charger",
			Description: "Compact dual-port fast charger", BasePriceCents: 349900,
			Variants: []domain.ProductVariant{
				{ID: "var-zep65", SKU: "ZEP-65W", PriceCents: 349900, StockCount: 60, IsDefault: true},
			},
			Tags: []string{"accessory"}, IsActive: true, CreatedAt: now, UpdatedAt: now,
		},
	}

	for _, p := range products {
		s.productsByID[p.ID] = p
		s.productIDBySlug[p.Slug] = p.ID
		for _, v := range p.Variants {
			s.variantSKUs[v.SKU] = v.ID
		}
	}
	return s
}

func cloneProduct(p domain.Product) domain.Product {
	out := p
	out.Variants = make([]domain.ProductVariant, len(p.Variants))
	copy(out.Variants, p.Variants)
	for i := range out.Variants {
		if out.Variants[i].Attributes != nil {
			attrs := make(map[string]string, len(out.Variants[i].Attributes))
			for k, v := range out.Variants[i].Attributes {
				attrs[k] = v
			}
			out.Variants[i].Attributes = attrs
		}
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	return out
}

func cloneCart(c domain.Cart) domain.Cart {
	out := c
	out.Lines = append([]domain.CartLine(nil), c.Lines...)
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	out := o
	out.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.Coupon != nil {
		coupon := *o.Coupon
		out.Coupon = &coupon
	}
	if o.Shipment != nil {
		shipment := *o.Shipment
		out.Shipment = &shipment
	}
	return out
}

func cloneReturn(rr domain.ReturnRequest) domain.ReturnRequest {
	out := rr
	out.Items = append([]domain.ReturnItem(nil), rr.Items...)
	if rr.Refund != nil {
		refund := *rr.Refund
		out.Refund = &refund
	}
	return out
}

func variantIndex(p domain.Product, variantID string) int {
	for i := range p.Variants {
		if p.Variants[i].ID == variantID {
			return i
		}
	}
	return -1
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.Slug == "" || product.Name == "" || len(product.Variants) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.productIDBySlug[product.Slug]; exists {
		return nil, fmt.Errorf("%w: slug %s", store.ErrConflict, product.Slug)
	}
	for _, v := range product.Variants {
		if v.SKU == "" || v.PriceCents < 1 || v.StockCount < 0 {
			return nil, store.ErrValidation
		}
		if _, exists := s.variantSKUs[v.SKU]; exists {
			return nil, fmt.Errorf("%w: sku %s", store.ErrConflict, v.SKU)
		}
	}

	p := cloneProduct(product)
	s.productsByID[p.ID] = p
	s.productIDBySlug[p.Slug] = p.ID
	for _, v := range p.Variants {
		s.variantSKUs[v.SKU] = v.ID
	}

	created := cloneProduct(p)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}

	// Stock counts are owned by the ledger-paired operations; carry the
	// stored values through regardless of what the caller sends.
	updated := cloneProduct(product)
	for i := range updated.Variants {
		if idx := variantIndex(existing, updated.Variants[i].ID); idx >= 0 {
			updated.Variants[i].StockCount = existing.Variants[idx].StockCount
		}
	}
	s.productsByID[updated.ID] = updated

	out := cloneProduct(updated)
	return &out, nil
}

func (s *Store) GetProductBySlug(_ context.Context, slug string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.productIDBySlug[slug]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := cloneProduct(s.productsByID[id])
	return &p, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneProduct(p)
	return &out, nil
}

func (s *Store) ListProducts(_ context.Context, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if !includeInactive && !p.IsActive {
			continue
		}
		products = append(products, cloneProduct(p))
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) GetCartByUser(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.getOrCreateCartLocked(userID)
	out := cloneCart(cart)
	return &out, nil
}

func (s *Store) getOrCreateCartLocked(userID string) domain.Cart {
	cart, ok := s.cartsByUser[userID]
	if !ok {
		cart = domain.Cart{ID: xid.New("cart"), UserID: userID, UpdatedAt: time.Now().UTC()}
		s.cartsByUser[userID] = cart
	}
	return cart
}

func (s *Store) UpsertCartLine(_ context.Context, userID string, line domain.CartLine) (*domain.Cart, error) {
	if line.ProductID == "" || line.VariantID == "" || line.Qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart := s.getOrCreateCartLocked(userID)

	merged := false
	for i := range cart.Lines {
		if cart.Lines[i].ProductID == line.ProductID && cart.Lines[i].VariantID == line.VariantID {
			cart.Lines[i].Qty += line.Qty
			cart.Lines[i].PriceAtAddCents = line.PriceAtAddCents
			merged = true
			break
		}
	}
	if !merged {
		if line.ID == "" {
			line.ID = xid.New("cline")
		}
		cart.Lines = append(cart.Lines, line)
	}
	cart.UpdatedAt = time.Now().UTC()
	s.cartsByUser[userID] = cart

	out := cloneCart(cart)
	return &out, nil
}

func (s *Store) UpdateCartLineQty(_ context.Context, userID string, lineID string, qty int, priceCents int64) (*domain.Cart, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			cart.Lines[i].Qty = qty
			cart.Lines[i].PriceAtAddCents = priceCents
			cart.UpdatedAt = time.Now().UTC()
			s.cartsByUser[userID] = cart
			out := cloneCart(cart)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) RemoveCartLine(_ context.Context, userID string, lineID string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
			cart.UpdatedAt = time.Now().UTC()
			s.cartsByUser[userID] = cart
			out := cloneCart(cart)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ClearCart(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.cartsByUser[userID]
	if !ok {
		return nil
	}
	cart.Lines = nil
	cart.UpdatedAt = time.Now().UTC()
	s.cartsByUser[userID] = cart
	return nil
}

func (s *Store) CheckoutCart(_ context.Context, params domain.CheckoutParams) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart, ok := s.cartsByUser[params.UserID]
	if !ok || len(cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	now := time.Now().UTC()

	// Validation phase: nothing is mutated until every line and the coupon
	// have been checked, so a failure leaves stock, ledger, coupon and cart
	// untouched.
	items := make([]domain.OrderItem, 0, len(cart.Lines))
	itemsTotal := int64(0)
	for _, line := range cart.Lines {
		product, ok := s.productsByID[line.ProductID]
		if !ok || !product.IsActive {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		idx := variantIndex(product, line.VariantID)
		if idx < 0 {
			return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, line.VariantID)
		}
		variant := product.Variants[idx]
		if variant.StockCount < line.Qty {
			return nil, fmt.Errorf("%w: %s (%s)", store.ErrInsufficientStock, product.Name, variant.SKU)
		}

		image := variant.ImageURL
		items = append(items, domain.OrderItem{
			ProductID:      product.ID,
			VariantID:      variant.ID,
			NameSnapshot:   product.Name,
			SKUSnapshot:    variant.SKU,
			ImageSnapshot:  image,
			Qty:            line.Qty,
			UnitPriceCents: variant.PriceCents,
		})
		itemsTotal += variant.PriceCents * int64(line.Qty)
	}

	var applied *domain.AppliedCoupon
	var couponID string
	if params.CouponCode != "" {
		id, ok := s.couponIDByCode[params.CouponCode]
		if !ok {
			return nil, domain.NewCouponError(params.CouponCode, domain.CouponReasonInvalid)
		}
		coupon := s.couponsByID[id]
		discount, err := coupon.Evaluate(itemsTotal, now)
		if err != nil {
			return nil, err
		}
		applied = &domain.AppliedCoupon{Code: coupon.Code, DiscountCents: discount}
		couponID = id
	}

	shippingFee := int64(0)
	discountTotal := int64(0)
	if applied != nil {
		discountTotal = applied.DiscountCents
	}
	grandTotal := itemsTotal + shippingFee - discountTotal

	orderNo := ""
	for attempt := 0; attempt < 5; attempt++ {
		candidate := orderno.New(now)
		if _, exists := s.orderIDByNo[candidate]; !exists {
			orderNo = candidate
			break
		}
	}
	if orderNo == "" {
		return nil, fmt.Errorf("%w: could not allocate order number", store.ErrConflict)
	}

	order := domain.Order{
		ID:              xid.New("ord"),
		OrderNo:         orderNo,
		UserID:          params.UserID,
		Items:           items,
		ShippingAddress: params.ShippingAddress,
		Payment:         domain.Payment{Method: params.PaymentMethod, Status: domain.PaymentStatusUnpaid},
		Pricing: domain.Pricing{
			ItemsTotalCents:    itemsTotal,
			ShippingFeeCents:   shippingFee,
			DiscountTotalCents: discountTotal,
			GrandTotalCents:    grandTotal,
		},
		Coupon:    applied,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Commit phase: no error paths below.
	if couponID != "" {
		coupon := s.couponsByID[couponID]
		coupon.UsedCount++
		s.couponsByID[couponID] = coupon
	}
	for _, item := range items {
		product := s.productsByID[item.ProductID]
		idx := variantIndex(product, item.VariantID)
		product.Variants[idx].StockCount -= item.Qty
		s.productsByID[item.ProductID] = product

		s.ledger = append(s.ledger, domain.LedgerEntry{
			ID:        xid.New("led"),
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Direction: domain.LedgerDirectionOut,
			Reason:    domain.LedgerReasonSale,
			Qty:       item.Qty,
			OrderID:   order.ID,
			Note:      "Order " + order.OrderNo,
			At:        now,
		})
	}
	s.ordersByID[order.ID] = order
	s.orderIDByNo[order.OrderNo] = order.ID

	cart.Lines = nil
	cart.UpdatedAt = now
	s.cartsByUser[params.UserID] = cart

	out := cloneOrder(order)
	return &out, nil
}

func (s *Store) GetOrderByNo(_ context.Context, orderNo string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.orderIDByNo[orderNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneOrder(s.ordersByID[id])
	return &out, nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 8)
	for _, o := range s.ordersByID {
		if o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (s *Store) ListOrders(_ context.Context, status string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	orders := make([]domain.Order, 0, 32)
	for _, o := range s.ordersByID {
		if status != "" && o.Status != status {
			continue
		}
		orders = append(orders, cloneOrder(o))
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderNo string, update domain.OrderStatusUpdateRequest) (*domain.Order, error) {
	if !domain.IsOrderStatus(update.Status) {
		return nil, fmt.Errorf("%w: status %q", store.ErrValidation, update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.orderIDByNo[orderNo]
	if !ok {
		return nil, store.ErrNotFound
	}
	order := s.ordersByID[id]
	now := time.Now().UTC()

	if update.Status == domain.OrderStatusCancelled && !s.restockedOrders[id] {
		s.restockLocked(order.Items, order.ID, domain.LedgerReasonCancelledOrder, "Cancelled order "+order.OrderNo, now)
		s.restockedOrders[id] = true
	}

	order.Status = update.Status

	if update.Status == domain.OrderStatusShipped {
		if order.Shipment == nil {
			order.Shipment = &domain.Shipment{}
		}
		if update.Courier != "" {
			order.Shipment.Courier = update.Courier
		}
		if update.TrackingID != "" {
			order.Shipment.TrackingID = update.TrackingID
		}
		shippedAt := now
		order.Shipment.ShippedAt = &shippedAt
	}

	if update.Status == domain.OrderStatusDelivered {
		if order.Shipment == nil {
			order.Shipment = &domain.Shipment{}
		}
		deliveredAt := now
		order.Shipment.DeliveredAt = &deliveredAt
		if order.Payment.Method == domain.PaymentMethodCOD {
			order.Payment.Status = domain.PaymentStatusPaid
			paidAt := now
			order.Payment.PaidAt = &paidAt
		}
	}

	order.UpdatedAt = now
	s.ordersByID[id] = order

	out := cloneOrder(order)
	return &out, nil
}

// restockLocked puts quantities back on the shelf with a paired ledger IN
// entry per item. Items whose product or variant has since been deleted are
// skipped entirely: a ledger entry without its matching stock change would
// break reconciliation.
func (s *Store) restockLocked(items []domain.OrderItem, orderID string, reason string, note string, now time.Time) {
	for _, item := range items {
		product, ok := s.productsByID[item.ProductID]
		if !ok {
			continue
		}
		idx := variantIndex(product, item.VariantID)
		if idx < 0 {
			continue
		}
		product.Variants[idx].StockCount += item.Qty
		s.productsByID[item.ProductID] = product

		s.ledger = append(s.ledger, domain.LedgerEntry{
			ID:        xid.New("led"),
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Direction: domain.LedgerDirectionIn,
			Reason:    reason,
			Qty:       item.Qty,
			OrderID:   orderID,
			Note:      note,
			At:        now,
		})
	}
}

func (s *Store) CreateReturnRequest(_ context.Context, rr domain.ReturnRequest) (*domain.ReturnRequest, error) {
	if rr.ID == "" || rr.OrderID == "" || len(rr.Items) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.returnsByID[rr.ID] = cloneReturn(rr)
	out := cloneReturn(rr)
	return &out, nil
}

func (s *Store) GetReturnByID(_ context.Context, id string) (*domain.ReturnRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rr, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneReturn(rr)
	return &out, nil
}

func (s *Store) ListReturnsByUser(_ context.Context, userID string) ([]domain.ReturnRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.ReturnRequest, 0, 4)
	for _, rr := range s.returnsByID {
		if rr.UserID == userID {
			rows = append(rows, cloneReturn(rr))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	return rows, nil
}

func (s *Store) ListReturns(_ context.Context, limit int) ([]domain.ReturnRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	rows := make([]domain.ReturnRequest, 0, 16)
	for _, rr := range s.returnsByID {
		rows = append(rows, cloneReturn(rr))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.After(rows[j].CreatedAt) })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *Store) UpdateReturnStatus(_ context.Context, id string, update domain.ReturnStatusUpdateRequest) (*domain.ReturnRequest, error) {
	if !domain.IsReturnStatus(update.Status) {
		return nil, fmt.Errorf("%w: status %q", store.ErrValidation, update.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rr, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	now := time.Now().UTC()

	if update.Status == domain.ReturnStatusReceived && !s.restockedReturns[id] {
		items := make([]domain.OrderItem, 0, len(rr.Items))
		for _, it := range rr.Items {
			items = append(items, domain.OrderItem{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Qty})
		}
		s.restockLocked(items, rr.OrderID, domain.LedgerReasonReturn, "Return received (RR "+rr.ID+")", now)
		s.restockedReturns[id] = true
	}

	rr.Status = update.Status

	if update.Refund != nil {
		if rr.Refund == nil {
			rr.Refund = &domain.RefundInfo{}
		}
		if update.Refund.AmountCents != nil {
			rr.Refund.AmountCents = *update.Refund.AmountCents
		}
		if update.Refund.Method != nil {
			rr.Refund.Method = *update.Refund.Method
		}
		if update.Refund.TransactionID != nil {
			rr.Refund.TransactionID = *update.Refund.TransactionID
		}
	}
	if update.Status == domain.ReturnStatusRefunded && rr.Refund != nil {
		refundedAt := now
		rr.Refund.RefundedAt = &refundedAt
	}

	rr.UpdatedAt = now
	s.returnsByID[id] = rr

	out := cloneReturn(rr)
	return &out, nil
}

func (s *Store) GetRequestedReturnQty(_ context.Context, orderID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[string]int)
	for _, rr := range s.returnsByID {
		if rr.OrderID != orderID || rr.Status == domain.ReturnStatusRejected {
			continue
		}
		for _, it := range rr.Items {
			totals[it.ProductID+"|"+it.VariantID] += it.Qty
		}
	}
	return totals, nil
}

func (s *Store) StockIn(_ context.Context, productID string, variantID string, qty int, unitCostCents int64, note string) (*domain.StockMovementResponse, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}
	if note == "" {
		note = "Stock IN"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productsByID[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	idx := variantIndex(product, variantID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, variantID)
	}

	product.Variants[idx].StockCount += qty
	s.productsByID[productID] = product

	entry := domain.LedgerEntry{
		ID:            xid.New("led"),
		ProductID:     productID,
		VariantID:     variantID,
		Direction:     domain.LedgerDirectionIn,
		Reason:        domain.LedgerReasonPurchase,
		Qty:           qty,
		UnitCostCents: unitCostCents,
		Note:          note,
		At:            time.Now().UTC(),
	}
	s.ledger = append(s.ledger, entry)

	return &domain.StockMovementResponse{
		ProductID: productID,
		VariantID: variantID,
		NewStock:  product.Variants[idx].StockCount,
		Ledger:    &entry,
	}, nil
}

func (s *Store) AdjustStock(_ context.Context, productID string, variantID string, newCount int, note string) (*domain.StockMovementResponse, error) {
	if newCount < 0 {
		return nil, store.ErrValidation
	}
	if note == "" {
		note = "Manual stock adjustment"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.productsByID[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	idx := variantIndex(product, variantID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, variantID)
	}

	diff := newCount - product.Variants[idx].StockCount
	resp := &domain.StockMovementResponse{ProductID: productID, VariantID: variantID, NewStock: newCount}
	if diff == 0 {
		return resp, nil
	}

	product.Variants[idx].StockCount = newCount
	s.productsByID[productID] = product

	direction := domain.LedgerDirectionIn
	qty := diff
	if diff < 0 {
		direction = domain.LedgerDirectionOut
		qty = -diff
	}
	entry := domain.LedgerEntry{
		ID:        xid.New("led"),
		ProductID: productID,
		VariantID: variantID,
		Direction: direction,
		Reason:    domain.LedgerReasonManual,
		Qty:       qty,
		Note:      note,
		At:        time.Now().UTC(),
	}
	s.ledger = append(s.ledger, entry)
	resp.Ledger = &entry
	return resp, nil
}

func (s *Store) ListLedger(_ context.Context, productID string, variantID string, limit int) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 200
	}
	rows := make([]domain.LedgerEntry, 0, 32)
	for i := len(s.ledger) - 1; i >= 0 && len(rows) < limit; i-- {
		e := s.ledger[i]
		if productID != "" && e.ProductID != productID {
			continue
		}
		if variantID != "" && e.VariantID != variantID {
			continue
		}
		rows = append(rows, e)
	}
	return rows, nil
}

func (s *Store) CreateCoupon(_ context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	if coupon.Code == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.couponIDByCode[coupon.Code]; exists {
		return nil, fmt.Errorf("%w: coupon code %s", store.ErrConflict, coupon.Code)
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("coup")
	}
	s.couponsByID[coupon.ID] = coupon
	s.couponIDByCode[coupon.Code] = coupon.ID

	created := coupon
	return &created, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.couponIDByCode[code]
	if !ok {
		return nil, store.ErrNotFound
	}
	coupon := s.couponsByID[id]
	return &coupon, nil
}

func (s *Store) ListCoupons(_ context.Context) ([]domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coupons := make([]domain.Coupon, 0, len(s.couponsByID))
	for _, c := range s.couponsByID {
		coupons = append(coupons, c)
	}
	sort.Slice(coupons, func(i, j int) bool { return coupons[i].Code < coupons[j].Code })
	return coupons, nil
}

func (s *Store) SetCouponActive(_ context.Context, id string, active bool) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	coupon, ok := s.couponsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	coupon.IsActive = active
	s.couponsByID[id] = coupon
	return &coupon, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(user.Email)
	if _, exists := s.usersByEmail[key]; exists {
		return nil, fmt.Errorf("%w: email already registered", store.ErrConflict)
	}
	s.usersByEmail[key] = user

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 100
	}
	rows := make([]domain.AuditLog, 0, 32)
	for i := len(s.auditLogs) - 1; i >= 0 && len(rows) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		rows = append(rows, entry)
	}
	return rows, nil
}
