package domain

import "time"

type ProductVariant struct {
	ID         string            `json:"id"`
	SKU        string            `json:"sku"`
	PriceCents int64             `json:"price_cents"`
	StockCount int               `json:"stock_count"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	IsDefault  bool              `json:"is_default"`
}

type Product struct {
	ID             string           `json:"id"`
	Slug           string           `json:"slug"`
	Name           string           `json:"name"`
	Description    string           `json:"description"`
	BrandID        string           `json:"brand_id,omitempty"`
	CategoryID     string           `json:"category_id,omitempty"`
	BasePriceCents int64            `json:"base_price_cents"`
	Variants       []ProductVariant `json:"variants"`
	Tags           []string         `json:"tags,omitempty"`
	IsActive       bool             `json:"is_active"`
	IsFeatured     bool             `json:"is_featured"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// DefaultVariant returns the variant flagged as default. Products always
// carry exactly one; see NormalizeDefaultVariant.
func (p Product) DefaultVariant() *ProductVariant {
	for i := range p.Variants {
		if p.Variants[i].IsDefault {
			return &p.Variants[i]
		}
	}
	if len(p.Variants) > 0 {
		return &p.Variants[0]
	}
	return nil
}

// NormalizeDefaultVariant enforces the exactly-one-default rule: the first
// flagged variant wins, and if none is flagged the first variant becomes
// the default.
func NormalizeDefaultVariant(variants []ProductVariant) {
	seen := false
	for i := range variants {
		if variants[i].IsDefault {
			if seen {
				variants[i].IsDefault = false
				continue
			}
			seen = true
		}
	}
	if !seen && len(variants) > 0 {
		variants[0].IsDefault = true
	}
}

type VariantInput struct {
	SKU        string            `json:"sku"`
	PriceCents int64             `json:"price_cents"`
	StockCount int               `json:"stock_count"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ImageURL   string            `json:"image_url,omitempty"`
	IsDefault  bool              `json:"is_default"`
}

type ProductCreateRequest struct {
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	BrandID        string         `json:"brand_id,omitempty"`
	CategoryID     string         `json:"category_id,omitempty"`
	BasePriceCents int64          `json:"base_price_cents"`
	Variants       []VariantInput `json:"variants"`
	Tags           []string       `json:"tags,omitempty"`
	IsFeatured     bool           `json:"is_featured"`
}

type ProductUpdateRequest struct {
	Name           *string `json:"name,omitempty"`
	Description    *string `json:"description,omitempty"`
	BasePriceCents *int64  `json:"base_price_cents,omitempty"`
	IsActive       *bool   `json:"is_active,omitempty"`
	IsFeatured     *bool   `json:"is_featured,omitempty"`
}

type CartLine struct {
	ID              string `json:"id"`
	ProductID       string `json:"product_id"`
	VariantID       string `json:"variant_id"`
	Qty             int    `json:"qty"`
	PriceAtAddCents int64  `json:"price_at_add_cents"`
}

type Cart struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Lines     []CartLine `json:"lines"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type AddCartItemRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
}

type UpdateCartItemRequest struct {
	Qty int `json:"qty"`
}

type ShippingAddress struct {
	RecipientName string `json:"recipient_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Division      string `json:"division"`
	District      string `json:"district"`
	Upazila       string `json:"upazila,omitempty"`
	Area          string `json:"area,omitempty"`
	PostalCode    string `json:"postal_code,omitempty"`
	AddressLine1  string `json:"address_line1"`
	AddressLine2  string `json:"address_line2,omitempty"`
}

type Payment struct {
	Method        string     `json:"method"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type Pricing struct {
	ItemsTotalCents    int64 `json:"items_total_cents"`
	ShippingFeeCents   int64 `json:"shipping_fee_cents"`
	DiscountTotalCents int64 `json:"discount_total_cents"`
	GrandTotalCents    int64 `json:"grand_total_cents"`
}

type AppliedCoupon struct {
	Code          string `json:"code"`
	DiscountCents int64  `json:"discount_cents"`
}

type Shipment struct {
	Courier     string     `json:"courier,omitempty"`
	TrackingID  string     `json:"tracking_id,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// OrderItem is a frozen snapshot of catalog data at purchase time. Orders
// keep their own copies so later price or name changes never rewrite
// history.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id"`
	NameSnapshot   string `json:"name_snapshot"`
	SKUSnapshot    string `json:"sku_snapshot"`
	ImageSnapshot  string `json:"image_snapshot,omitempty"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNo         string          `json:"order_no"`
	UserID          string          `json:"user_id"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Payment         Payment         `json:"payment"`
	Pricing         Pricing         `json:"pricing"`
	Coupon          *AppliedCoupon  `json:"coupon,omitempty"`
	Status          string          `json:"status"`
	Shipment        *Shipment       `json:"shipment,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type CheckoutRequest struct {
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	CouponCode      string          `json:"coupon_code,omitempty"`
}

// CheckoutParams is the store-level input for the atomic checkout unit. The
// service validates the request and resolves the acting user before handing
// off.
type CheckoutParams struct {
	UserID          string
	ShippingAddress ShippingAddress
	PaymentMethod   string
	CouponCode      string
}

type OrderStatusUpdateRequest struct {
	Status     string `json:"status"`
	Courier    string `json:"courier,omitempty"`
	TrackingID string `json:"tracking_id,omitempty"`
}

type LedgerEntry struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	VariantID     string    `json:"variant_id"`
	Direction     string    `json:"direction"`
	Reason        string    `json:"reason"`
	Qty           int       `json:"qty"`
	UnitCostCents int64     `json:"unit_cost_cents,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	Note          string    `json:"note,omitempty"`
	At            time.Time `json:"at"`
}

// SignedQty is the entry's effect on stock: positive for IN, negative for
// OUT. Replaying all entries for a variant from zero reproduces its current
// stock count.
func (e LedgerEntry) SignedQty() int {
	if e.Direction == LedgerDirectionOut {
		return -e.Qty
	}
	return e.Qty
}

type StockInRequest struct {
	ProductID     string `json:"product_id"`
	VariantID     string `json:"variant_id"`
	Qty           int    `json:"qty"`
	UnitCostCents int64  `json:"unit_cost_cents,omitempty"`
	Note          string `json:"note,omitempty"`
}

type StockAdjustRequest struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	NewCount  int    `json:"new_count"`
	Note      string `json:"note,omitempty"`
}

type StockMovementResponse struct {
	ProductID string       `json:"product_id"`
	VariantID string       `json:"variant_id"`
	NewStock  int          `json:"new_stock"`
	Ledger    *LedgerEntry `json:"ledger,omitempty"`
}

// Coupon value semantics follow its type: PERCENT stores percentage points,
// FIXED stores cents. UsedCount increments exactly once per successful order
// application and never decrements, even when the order is later cancelled
// (open product question; see DESIGN.md).
type Coupon struct {
	ID                string     `json:"id"`
	Code              string     `json:"code"`
	Type              string     `json:"type"`
	Value             int64      `json:"value"`
	MinCartTotalCents int64      `json:"min_cart_total_cents"`
	MaxDiscountCents  int64      `json:"max_discount_cents,omitempty"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidTo           *time.Time `json:"valid_to,omitempty"`
	UsageLimit        int        `json:"usage_limit"`
	UsedCount         int        `json:"used_count"`
	IsActive          bool       `json:"is_active"`
	CreatedAt         time.Time  `json:"created_at"`
}

type CouponCreateRequest struct {
	Code              string     `json:"code"`
	Type              string     `json:"type"`
	Value             int64      `json:"value"`
	MinCartTotalCents int64      `json:"min_cart_total_cents"`
	MaxDiscountCents  int64      `json:"max_discount_cents,omitempty"`
	ValidFrom         *time.Time `json:"valid_from,omitempty"`
	ValidTo           *time.Time `json:"valid_to,omitempty"`
	UsageLimit        int        `json:"usage_limit"`
}

type CouponValidateResponse struct {
	Code          string `json:"code"`
	DiscountCents int64  `json:"discount_cents"`
}

type ReturnItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Qty       int    `json:"qty"`
	Reason    string `json:"reason,omitempty"`
}

type RefundInfo struct {
	AmountCents   int64      `json:"amount_cents"`
	Method        string     `json:"method,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	RefundedAt    *time.Time `json:"refunded_at,omitempty"`
}

type ReturnRequest struct {
	ID        string       `json:"id"`
	OrderID   string       `json:"order_id"`
	OrderNo   string       `json:"order_no"`
	UserID    string       `json:"user_id"`
	Items     []ReturnItem `json:"items"`
	Status    string       `json:"status"`
	Refund    *RefundInfo  `json:"refund,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type ReturnCreateRequest struct {
	OrderNo string       `json:"order_no"`
	Items   []ReturnItem `json:"items"`
	Notes   string       `json:"notes,omitempty"`
}

type ReturnRefundUpdate struct {
	AmountCents   *int64  `json:"amount_cents,omitempty"`
	Method        *string `json:"method,omitempty"`
	TransactionID *string `json:"transaction_id,omitempty"`
}

type ReturnStatusUpdateRequest struct {
	Status string              `json:"status"`
	Refund *ReturnRefundUpdate `json:"refund,omitempty"`
}

type SignupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	UserID string
	Email  string
	Role   string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	Active       bool
	CreatedAt    time.Time
}

type AuditLog struct {
	ID         string    `json:"id"`
	ActorID    string    `json:"actor_id"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
