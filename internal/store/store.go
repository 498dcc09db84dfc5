package store

import (
	"context"
	"errors"
	"time"

	"splmart/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("invalid input")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
)

type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error)

	GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	UpsertCartLine(ctx context.Context, userID string, line domain.CartLine) (*domain.Cart, error)
	UpdateCartLineQty(ctx context.Context, userID string, lineID string, qty int, priceCents int64) (*domain.Cart, error)
	RemoveCartLine(ctx context.Context, userID string, lineID string) (*domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error

	// CheckoutCart converts the user's cart into an order as one atomic
	// unit: stock validation and decrement, line freezing at current
	// prices, coupon application, ledger appends, order persistence and
	// cart clearing all commit or roll back together.
	CheckoutCart(ctx context.Context, params domain.CheckoutParams) (*domain.Order, error)

	GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderNo string, update domain.OrderStatusUpdateRequest) (*domain.Order, error)

	CreateReturnRequest(ctx context.Context, rr domain.ReturnRequest) (*domain.ReturnRequest, error)
	GetReturnByID(ctx context.Context, id string) (*domain.ReturnRequest, error)
	ListReturnsByUser(ctx context.Context, userID string) ([]domain.ReturnRequest, error)
	ListReturns(ctx context.Context, limit int) ([]domain.ReturnRequest, error)
	UpdateReturnStatus(ctx context.Context, id string, update domain.ReturnStatusUpdateRequest) (*domain.ReturnRequest, error)
	// GetRequestedReturnQty sums per-variant quantities across the order's
	// non-rejected return requests, keyed by productID+"|"+variantID.
	GetRequestedReturnQty(ctx context.Context, orderID string) (map[string]int, error)

	StockIn(ctx context.Context, productID string, variantID string, qty int, unitCostCents int64, note string) (*domain.StockMovementResponse, error)
	AdjustStock(ctx context.Context, productID string, variantID string, newCount int, note string) (*domain.StockMovementResponse, error)
	ListLedger(ctx context.Context, productID string, variantID string, limit int) ([]domain.LedgerEntry, error)

	CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error)
	ListCoupons(ctx context.Context) ([]domain.Coupon, error)
	SetCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error)

	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}
