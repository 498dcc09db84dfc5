package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"splmart/backend/internal/cache"
	"splmart/backend/internal/domain"
	"splmart/backend/internal/store"
	"splmart/backend/internal/xid"
)

var (
	ErrUnauthorized = errors.New("authentication required")
	ErrForbidden    = errors.New("admin role required")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	cache    cache.ProductCache
	log      *zap.Logger
	cacheTTL time.Duration
}

func New(repo store.Repository, productCache cache.ProductCache, logger *zap.Logger, cacheTTL time.Duration) *Service {
	if productCache == nil {
		productCache = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		cache:    productCache,
		log:      logger,
		cacheTTL: cacheTTL,
	}
}

func (s *Service) requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

func (s *Service) requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleAdmin {
		return domain.Actor{}, ErrForbidden
	}
	return actor, nil
}

// --- catalog ---

func (s *Service) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	if includeInactive {
		if _, err := s.requireAdmin(ctx); err != nil {
			return nil, err
		}
	}
	return s.repo.ListProducts(ctx, includeInactive)
}

// GetProduct serves catalog reads through the product cache. Stock counts in
// a cached entry can lag a sale by up to the TTL; they are advisory on this
// path and re-checked inside checkout.
func (s *Service) GetProduct(ctx context.Context, slug string) (*domain.Product, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, store.ErrValidation
	}

	if cached, ok, err := s.cache.Get(ctx, slug); err != nil {
		s.log.Warn("product cache read failed", zap.String("slug", slug), zap.Error(err))
	} else if ok {
		return cached, nil
	}

	product, err := s.repo.GetProductBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, store.ErrNotFound
	}

	if err := s.cache.Set(ctx, slug, product, s.cacheTTL); err != nil {
		s.log.Warn("product cache write failed", zap.String("slug", slug), zap.Error(err))
	}
	return product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	req.Name = strings.TrimSpace(req.Name)
	if req.Slug == "" || req.Name == "" || len(req.Variants) == 0 {
		return nil, store.ErrValidation
	}

	variants := make([]domain.ProductVariant, 0, len(req.Variants))
	for _, in := range req.Variants {
		sku := strings.ToUpper(strings.TrimSpace(in.SKU))
		if sku == "" || in.PriceCents < 1 || in.StockCount < 0 {
			return nil, store.ErrValidation
		}
		variants = append(variants, domain.ProductVariant{
			ID:         xid.New("var"),
			SKU:        sku,
			PriceCents: in.PriceCents,
			StockCount: in.StockCount,
			Attributes: in.Attributes,
			ImageURL:   in.ImageURL,
			IsDefault:  in.IsDefault,
		})
	}
	domain.NormalizeDefaultVariant(variants)

	product := domain.Product{
		ID:             xid.New("prod"),
		Slug:           req.Slug,
		Name:           req.Name,
		Description:    req.Description,
		BrandID:        req.BrandID,
		CategoryID:     req.CategoryID,
		BasePriceCents: req.BasePriceCents,
		Variants:       variants,
		Tags:           req.Tags,
		IsActive:       true,
		IsFeatured:     req.IsFeatured,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("slug=%s,variants=%d", created.Slug, len(created.Variants)))
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, slug string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	slug = strings.ToLower(strings.TrimSpace(slug))
	existing, err := s.repo.GetProductBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrValidation
		}
		existing.Name = name
	}
	if req.Description != nil {
		existing.Description = *req.Description
	}
	if req.BasePriceCents != nil {
		if *req.BasePriceCents < 0 {
			return nil, store.ErrValidation
		}
		existing.BasePriceCents = *req.BasePriceCents
	}
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if req.IsFeatured != nil {
		existing.IsFeatured = *req.IsFeatured
	}

	saved, err := s.repo.UpdateProduct(ctx, *existing)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Invalidate(ctx, saved.Slug); err != nil {
		s.log.Warn("product cache invalidation failed", zap.String("slug", saved.Slug), zap.Error(err))
	}
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("slug=%s,active=%t", saved.Slug, saved.IsActive))
	return saved, nil
}

// --- cart ---

func (s *Service) GetCart(ctx context.Context) (*domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.GetCartByUser(ctx, actor.UserID)
}

// AddToCart records an intent to buy. The stock check here is advisory (it
// rejects obviously-doomed additions early); the authoritative check happens
// inside checkout. PriceAtAdd is a display marker, never a price promise.
func (s *Service) AddToCart(ctx context.Context, req domain.AddCartItemRequest) (*domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.ProductID == "" || req.VariantID == "" || req.Qty < 1 {
		return nil, store.ErrValidation
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, store.ErrNotFound
	}
	var variant *domain.ProductVariant
	for i := range product.Variants {
		if product.Variants[i].ID == req.VariantID {
			variant = &product.Variants[i]
			break
		}
	}
	if variant == nil {
		return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, req.VariantID)
	}

	existingQty := 0
	cart, err := s.repo.GetCartByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	for _, line := range cart.Lines {
		if line.ProductID == req.ProductID && line.VariantID == req.VariantID {
			existingQty = line.Qty
			break
		}
	}
	if existingQty+req.Qty > variant.StockCount {
		return nil, fmt.Errorf("%w: %s (%s)", store.ErrInsufficientStock, product.Name, variant.SKU)
	}

	return s.repo.UpsertCartLine(ctx, actor.UserID, domain.CartLine{
		ProductID:       req.ProductID,
		VariantID:       req.VariantID,
		Qty:             req.Qty,
		PriceAtAddCents: variant.PriceCents,
	})
}

func (s *Service) UpdateCartItem(ctx context.Context, lineID string, req domain.UpdateCartItemRequest) (*domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.Qty < 1 {
		return nil, store.ErrValidation
	}

	cart, err := s.repo.GetCartByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	var target *domain.CartLine
	for i := range cart.Lines {
		if cart.Lines[i].ID == lineID {
			target = &cart.Lines[i]
			break
		}
	}
	if target == nil {
		return nil, store.ErrNotFound
	}

	product, err := s.repo.GetProductByID(ctx, target.ProductID)
	if err != nil {
		return nil, err
	}
	priceCents := target.PriceAtAddCents
	for _, v := range product.Variants {
		if v.ID == target.VariantID {
			if req.Qty > v.StockCount {
				return nil, fmt.Errorf("%w: %s (%s)", store.ErrInsufficientStock, product.Name, v.SKU)
			}
			priceCents = v.PriceCents
			break
		}
	}

	return s.repo.UpdateCartLineQty(ctx, actor.UserID, lineID, req.Qty, priceCents)
}

func (s *Service) RemoveCartItem(ctx context.Context, lineID string) (*domain.Cart, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.RemoveCartLine(ctx, actor.UserID, lineID)
}

func (s *Service) ClearCart(ctx context.Context) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	return s.repo.ClearCart(ctx, actor.UserID)
}

// --- checkout and orders ---

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	addr := req.ShippingAddress
	if strings.TrimSpace(addr.Division) == "" || strings.TrimSpace(addr.District) == "" || strings.TrimSpace(addr.AddressLine1) == "" {
		return nil, fmt.Errorf("%w: shipping address requires division, district and address line", store.ErrValidation)
	}
	if !domain.IsPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	order, err := s.repo.CheckoutCart(ctx, domain.CheckoutParams{
		UserID:          actor.UserID,
		ShippingAddress: addr,
		PaymentMethod:   req.PaymentMethod,
		CouponCode:      strings.ToUpper(strings.TrimSpace(req.CouponCode)),
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order placed",
		zap.String("order_no", order.OrderNo),
		zap.String("user_id", order.UserID),
		zap.Int64("grand_total_cents", order.Pricing.GrandTotalCents),
		zap.Int("items", len(order.Items)))
	s.logAudit(ctx, "order_create", "order", order.OrderNo, fmt.Sprintf("total=%d,items=%d", order.Pricing.GrandTotalCents, len(order.Items)))
	return order, nil
}

func (s *Service) MyOrders(ctx context.Context) ([]domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByUser(ctx, actor.UserID)
}

// GetOrder returns the order to its owner or to an admin. Anyone else gets
// ErrNotFound so order numbers cannot be probed.
func (s *Service) GetOrder(ctx context.Context, orderNo string) (*domain.Order, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.repo.GetOrderByNo(ctx, orderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID && actor.Role != domain.RoleAdmin {
		return nil, store.ErrNotFound
	}
	return order, nil
}

func (s *Service) AdminListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if status != "" && !domain.IsOrderStatus(status) {
		return nil, fmt.Errorf("%w: status %q", store.ErrValidation, status)
	}
	return s.repo.ListOrders(ctx, status, limit)
}

func (s *Service) UpdateOrderStatus(ctx context.Context, orderNo string, update domain.OrderStatusUpdateRequest) (*domain.Order, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	order, err := s.repo.UpdateOrderStatus(ctx, orderNo, update)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "order_status", "order", order.OrderNo, "status="+order.Status)
	return order, nil
}

// --- returns ---

func (s *Service) RequestReturn(ctx context.Context, req domain.ReturnCreateRequest) (*domain.ReturnRequest, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req.OrderNo == "" || len(req.Items) == 0 {
		return nil, store.ErrValidation
	}

	order, err := s.repo.GetOrderByNo(ctx, req.OrderNo)
	if err != nil {
		return nil, err
	}
	if order.UserID != actor.UserID {
		return nil, store.ErrNotFound
	}
	if order.Status != domain.OrderStatusDelivered {
		return nil, fmt.Errorf("%w: only delivered orders can be returned", store.ErrValidation)
	}

	// Cumulative cap: across all non-rejected return requests, no variant may
	// exceed the quantity originally ordered.
	requested, err := s.repo.GetRequestedReturnQty(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	orderedQty := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		orderedQty[item.ProductID+"|"+item.VariantID] += item.Qty
	}
	for _, it := range req.Items {
		if it.Qty < 1 {
			return nil, store.ErrValidation
		}
		key := it.ProductID + "|" + it.VariantID
		ordered, ok := orderedQty[key]
		if !ok {
			return nil, fmt.Errorf("%w: item not part of order", store.ErrValidation)
		}
		if requested[key]+it.Qty > ordered {
			return nil, fmt.Errorf("%w: return quantity exceeds ordered quantity", store.ErrValidation)
		}
		requested[key] += it.Qty
	}

	now := time.Now().UTC()
	created, err := s.repo.CreateReturnRequest(ctx, domain.ReturnRequest{
		ID:        xid.New("ret"),
		OrderID:   order.ID,
		OrderNo:   order.OrderNo,
		UserID:    actor.UserID,
		Items:     req.Items,
		Status:    domain.ReturnStatusRequested,
		Notes:     req.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "return_request", "return", created.ID, fmt.Sprintf("order=%s,items=%d", created.OrderNo, len(created.Items)))
	return created, nil
}

func (s *Service) MyReturns(ctx context.Context) ([]domain.ReturnRequest, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListReturnsByUser(ctx, actor.UserID)
}

func (s *Service) GetReturn(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	rr, err := s.repo.GetReturnByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rr.UserID != actor.UserID && actor.Role != domain.RoleAdmin {
		return nil, store.ErrNotFound
	}
	return rr, nil
}

func (s *Service) AdminListReturns(ctx context.Context, limit int) ([]domain.ReturnRequest, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListReturns(ctx, limit)
}

func (s *Service) UpdateReturnStatus(ctx context.Context, id string, update domain.ReturnStatusUpdateRequest) (*domain.ReturnRequest, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	rr, err := s.repo.UpdateReturnStatus(ctx, id, update)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "return_status", "return", rr.ID, "status="+rr.Status)
	return rr, nil
}

// --- coupons ---

// ValidateCoupon previews the discount against the caller's current cart at
// current variant prices. It never increments used_count; only a successful
// checkout does.
func (s *Service) ValidateCoupon(ctx context.Context, code string) (*domain.CouponValidateResponse, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return nil, err
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, store.ErrValidation
	}

	cart, err := s.repo.GetCartByUser(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	cartTotal := int64(0)
	for _, line := range cart.Lines {
		product, err := s.repo.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		for _, v := range product.Variants {
			if v.ID == line.VariantID {
				cartTotal += v.PriceCents * int64(line.Qty)
				break
			}
		}
	}

	coupon, err := s.repo.GetCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.NewCouponError(code, domain.CouponReasonInvalid)
		}
		return nil, err
	}
	discount, err := coupon.Evaluate(cartTotal, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	return &domain.CouponValidateResponse{Code: coupon.Code, DiscountCents: discount}, nil
}

func (s *Service) CreateCoupon(ctx context.Context, req domain.CouponCreateRequest) (*domain.Coupon, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, store.ErrValidation
	}
	switch req.Type {
	case domain.CouponTypePercent:
		if req.Value < 1 || req.Value > 100 {
			return nil, fmt.Errorf("%w: percent value must be 1-100", store.ErrValidation)
		}
	case domain.CouponTypeFixed:
		if req.Value < 1 {
			return nil, fmt.Errorf("%w: fixed value must be positive", store.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: coupon type %q", store.ErrValidation, req.Type)
	}
	if req.MinCartTotalCents < 0 || req.MaxDiscountCents < 0 || req.UsageLimit < 0 {
		return nil, store.ErrValidation
	}
	if req.ValidFrom != nil && req.ValidTo != nil && req.ValidTo.Before(*req.ValidFrom) {
		return nil, fmt.Errorf("%w: valid_to precedes valid_from", store.ErrValidation)
	}

	created, err := s.repo.CreateCoupon(ctx, domain.Coupon{
		Code:              code,
		Type:              req.Type,
		Value:             req.Value,
		MinCartTotalCents: req.MinCartTotalCents,
		MaxDiscountCents:  req.MaxDiscountCents,
		ValidFrom:         req.ValidFrom,
		ValidTo:           req.ValidTo,
		UsageLimit:        req.UsageLimit,
		IsActive:          true,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "coupon_create", "coupon", created.ID, "code="+created.Code)
	return created, nil
}

func (s *Service) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListCoupons(ctx)
}

func (s *Service) SetCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}

	coupon, err := s.repo.SetCouponActive(ctx, id, active)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "coupon_set_active", "coupon", coupon.ID, fmt.Sprintf("code=%s,active=%t", coupon.Code, active))
	return coupon, nil
}

// --- inventory ---

func (s *Service) StockIn(ctx context.Context, req domain.StockInRequest) (*domain.StockMovementResponse, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.ProductID == "" || req.VariantID == "" || req.Qty < 1 || req.UnitCostCents < 0 {
		return nil, store.ErrValidation
	}

	resp, err := s.repo.StockIn(ctx, req.ProductID, req.VariantID, req.Qty, req.UnitCostCents, req.Note)
	if err != nil {
		return nil, err
	}

	s.invalidateProductCache(ctx, req.ProductID)
	s.logAudit(ctx, "stock_in", "variant", req.VariantID, fmt.Sprintf("qty=%d,new_stock=%d", req.Qty, resp.NewStock))
	return resp, nil
}

func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (*domain.StockMovementResponse, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if req.ProductID == "" || req.VariantID == "" || req.NewCount < 0 {
		return nil, store.ErrValidation
	}

	resp, err := s.repo.AdjustStock(ctx, req.ProductID, req.VariantID, req.NewCount, req.Note)
	if err != nil {
		return nil, err
	}

	s.invalidateProductCache(ctx, req.ProductID)
	s.logAudit(ctx, "stock_adjust", "variant", req.VariantID, fmt.Sprintf("new_stock=%d", resp.NewStock))
	return resp, nil
}

func (s *Service) ListLedger(ctx context.Context, productID string, variantID string, limit int) ([]domain.LedgerEntry, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListLedger(ctx, productID, variantID, limit)
}

func (s *Service) invalidateProductCache(ctx context.Context, productID string) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return
	}
	if err := s.cache.Invalidate(ctx, product.Slug); err != nil {
		s.log.Warn("product cache invalidation failed", zap.String("slug", product.Slug), zap.Error(err))
	}
}

// --- audit ---

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if _, err := s.requireAdmin(ctx); err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{UserID: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err))
	}
}
