package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"splmart/backend/internal/domain"
	"splmart/backend/internal/orderno"
	"splmart/backend/internal/store"
	"splmart/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// dbtx lets query helpers run against either the pool or an open transaction.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- products ---

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Slug == "" || product.Name == "" || len(product.Variants) == 0 {
		return nil, store.ErrValidation
	}
	for _, v := range product.Variants {
		if v.SKU == "" || v.PriceCents < 1 || v.StockCount < 0 {
			return nil, store.ErrValidation
		}
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	tagsJSON, err := json.Marshal(tagsOrEmpty(product.Tags))
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, slug, name, description, brand_id, category_id, base_price_cents, tags, is_active, is_featured, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now(),now())
	`, product.ID, product.Slug, product.Name, product.Description, product.BrandID, product.CategoryID,
		product.BasePriceCents, tagsJSON, product.IsActive, product.IsFeatured)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: slug %s", store.ErrConflict, product.Slug)
		}
		return nil, err
	}

	for i, v := range product.Variants {
		if err := insertVariant(ctx, tx, product.ID, v, i); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProductByID(ctx, product.ID)
}

func insertVariant(ctx context.Context, q dbtx, productID string, v domain.ProductVariant, position int) error {
	attrsJSON, err := json.Marshal(attrsOrEmpty(v.Attributes))
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO product_variants (id, product_id, sku, price_cents, stock_count, attributes, image_url, is_default, position)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, v.ID, productID, v.SKU, v.PriceCents, v.StockCount, attrsJSON, v.ImageURL, v.IsDefault, position)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: sku %s", store.ErrConflict, v.SKU)
		}
		return err
	}
	return nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	tagsJSON, err := json.Marshal(tagsOrEmpty(product.Tags))
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, brand_id = $3, category_id = $4,
		    base_price_cents = $5, tags = $6, is_active = $7, is_featured = $8, updated_at = now()
		WHERE id = $9
	`, product.Name, product.Description, product.BrandID, product.CategoryID,
		product.BasePriceCents, tagsJSON, product.IsActive, product.IsFeatured, product.ID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}

	// stock_count is owned by the ledger-paired operations and is never
	// written here. New variants start at the provided initial count.
	for i, v := range product.Variants {
		attrsJSON, err := json.Marshal(attrsOrEmpty(v.Attributes))
		if err != nil {
			return nil, err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE product_variants
			SET sku = $1, price_cents = $2, attributes = $3, image_url = $4, is_default = $5, position = $6
			WHERE id = $7 AND product_id = $8
		`, v.SKU, v.PriceCents, attrsJSON, v.ImageURL, v.IsDefault, i, v.ID, product.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("%w: sku %s", store.ErrConflict, v.SKU)
			}
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := insertVariant(ctx, tx, product.ID, v, i); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetProductByID(ctx, product.ID)
}

const productColumns = `id, slug, name, description, brand_id, category_id, base_price_cents, tags, is_active, is_featured, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	var tagsRaw []byte
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.BrandID, &p.CategoryID,
		&p.BasePriceCents, &tagsRaw, &p.IsActive, &p.IsFeatured, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &p.Tags); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *Store) loadVariants(ctx context.Context, q dbtx, productID string) ([]domain.ProductVariant, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sku, price_cents, stock_count, attributes, image_url, is_default
		FROM product_variants
		WHERE product_id = $1
		ORDER BY position, id
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	variants := make([]domain.ProductVariant, 0, 4)
	for rows.Next() {
		var v domain.ProductVariant
		var attrsRaw []byte
		if err := rows.Scan(&v.ID, &v.SKU, &v.PriceCents, &v.StockCount, &attrsRaw, &v.ImageURL, &v.IsDefault); err != nil {
			return nil, err
		}
		if len(attrsRaw) > 0 {
			if err := json.Unmarshal(attrsRaw, &v.Attributes); err != nil {
				return nil, err
			}
		}
		variants = append(variants, v)
	}
	return variants, rows.Err()
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE `+where, arg))
	if err != nil {
		return nil, err
	}
	variants, err := s.loadVariants(ctx, s.db, product.ID)
	if err != nil {
		return nil, err
	}
	product.Variants = variants
	return product, nil
}

func (s *Store) GetProductBySlug(ctx context.Context, slug string) (*domain.Product, error) {
	return s.getProduct(ctx, `slug = $1`, slug)
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	return s.getProduct(ctx, `id = $1`, id)
}

func (s *Store) ListProducts(ctx context.Context, includeInactive bool) ([]domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeInactive {
		query += ` WHERE is_active = true`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	index := make(map[string]int, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		index[p.ID] = len(products)
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	variantRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, id, sku, price_cents, stock_count, attributes, image_url, is_default
		FROM product_variants
		ORDER BY product_id, position, id
	`)
	if err != nil {
		return nil, err
	}
	defer variantRows.Close()

	for variantRows.Next() {
		var productID string
		var v domain.ProductVariant
		var attrsRaw []byte
		if err := variantRows.Scan(&productID, &v.ID, &v.SKU, &v.PriceCents, &v.StockCount, &attrsRaw, &v.ImageURL, &v.IsDefault); err != nil {
			return nil, err
		}
		if len(attrsRaw) > 0 {
			if err := json.Unmarshal(attrsRaw, &v.Attributes); err != nil {
				return nil, err
			}
		}
		if i, ok := index[productID]; ok {
			products[i].Variants = append(products[i].Variants, v)
		}
	}
	return products, variantRows.Err()
}

// --- carts ---

func (s *Store) ensureCart(ctx context.Context, q dbtx, userID string) (string, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO carts (id, user_id, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO NOTHING
	`, xid.New("cart"), userID)
	if err != nil {
		return "", err
	}
	var cartID string
	if err := q.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = $1`, userID).Scan(&cartID); err != nil {
		return "", err
	}
	return cartID, nil
}

func (s *Store) loadCart(ctx context.Context, q dbtx, userID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := q.QueryRowContext(ctx, `SELECT id, user_id, updated_at FROM carts WHERE user_id = $1`, userID).
		Scan(&cart.ID, &cart.UserID, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, product_id, variant_id, qty, price_at_add_cents
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY id
	`, cart.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ID, &line.ProductID, &line.VariantID, &line.Qty, &line.PriceAtAddCents); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}
	return &cart, rows.Err()
}

func (s *Store) GetCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	if _, err := s.ensureCart(ctx, s.db, userID); err != nil {
		return nil, err
	}
	return s.loadCart(ctx, s.db, userID)
}

func (s *Store) UpsertCartLine(ctx context.Context, userID string, line domain.CartLine) (*domain.Cart, error) {
	if line.ProductID == "" || line.VariantID == "" || line.Qty < 1 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	cartID, err := s.ensureCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	if line.ID == "" {
		line.ID = xid.New("cline")
	}
	// Same product+variant merges into the existing line; the price marker
	// refreshes to the latest observed price.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cart_lines (id, cart_id, product_id, variant_id, qty, price_at_add_cents)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (cart_id, product_id, variant_id)
		DO UPDATE SET qty = cart_lines.qty + EXCLUDED.qty, price_at_add_cents = EXCLUDED.price_at_add_cents
	`, line.ID, cartID, line.ProductID, line.VariantID, line.Qty, line.PriceAtAddCents)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return nil, err
	}

	cart, err := s.loadCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Store) UpdateCartLineQty(ctx context.Context, userID string, lineID string, qty int, priceCents int64) (*domain.Cart, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cart_lines
		SET qty = $1, price_at_add_cents = $2
		WHERE id = $3 AND cart_id = (SELECT id FROM carts WHERE user_id = $4)
	`, qty, priceCents, lineID, userID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.loadCart(ctx, s.db, userID)
}

func (s *Store) RemoveCartLine(ctx context.Context, userID string, lineID string) (*domain.Cart, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_lines
		WHERE id = $1 AND cart_id = (SELECT id FROM carts WHERE user_id = $2)
	`, lineID, userID)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return s.loadCart(ctx, s.db, userID)
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM cart_lines WHERE cart_id = (SELECT id FROM carts WHERE user_id = $1)
	`, userID)
	return err
}

// --- checkout ---

// CheckoutCart is the atomic order placement unit. Everything runs in one
// serializable transaction with the touched variant rows (and the coupon row,
// if any) locked FOR UPDATE, so concurrent checkouts against the same stock
// or coupon serialize instead of overselling.
func (s *Store) CheckoutCart(ctx context.Context, params domain.CheckoutParams) (*domain.Order, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var cartID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, params.UserID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
		}
		return nil, err
	}

	lineRows, err := tx.QueryContext(ctx, `
		SELECT product_id, variant_id, qty
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY id
	`, cartID)
	if err != nil {
		return nil, err
	}
	type cartEntry struct {
		productID string
		variantID string
		qty       int
	}
	entries := make([]cartEntry, 0, 8)
	for lineRows.Next() {
		var e cartEntry
		if err := lineRows.Scan(&e.productID, &e.variantID, &e.qty); err != nil {
			_ = lineRows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return nil, err
	}
	_ = lineRows.Close()

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	variantIDs := make([]string, 0, len(entries))
	for _, e := range entries {
		variantIDs = append(variantIDs, e.variantID)
	}

	type lockedVariant struct {
		productID   string
		sku         string
		priceCents  int64
		stock       int
		imageURL    string
		productName string
	}
	variantRows, err := tx.QueryContext(ctx, `
		SELECT pv.id, pv.product_id, pv.sku, pv.price_cents, pv.stock_count, pv.image_url, p.name
		FROM product_variants pv
		JOIN products p ON p.id = pv.product_id
		WHERE pv.id = ANY($1) AND p.is_active = true
		FOR UPDATE OF pv
	`, variantIDs)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]lockedVariant, len(entries))
	for variantRows.Next() {
		var id string
		var lv lockedVariant
		if err := variantRows.Scan(&id, &lv.productID, &lv.sku, &lv.priceCents, &lv.stock, &lv.imageURL, &lv.productName); err != nil {
			_ = variantRows.Close()
			return nil, err
		}
		locked[id] = lv
	}
	if err := variantRows.Err(); err != nil {
		_ = variantRows.Close()
		return nil, err
	}
	_ = variantRows.Close()

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(entries))
	itemsTotal := int64(0)
	for _, e := range entries {
		lv, ok := locked[e.variantID]
		if !ok || lv.productID != e.productID {
			return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, e.variantID)
		}
		if lv.stock < e.qty {
			return nil, fmt.Errorf("%w: %s (%s)", store.ErrInsufficientStock, lv.productName, lv.sku)
		}
		// Price freezes at the variant's current price, not the cart's
		// advisory price marker.
		items = append(items, domain.OrderItem{
			ProductID:      e.productID,
			VariantID:      e.variantID,
			NameSnapshot:   lv.productName,
			SKUSnapshot:    lv.sku,
			ImageSnapshot:  lv.imageURL,
			Qty:            e.qty,
			UnitPriceCents: lv.priceCents,
		})
		itemsTotal += lv.priceCents * int64(e.qty)
	}

	var applied *domain.AppliedCoupon
	var couponID string
	if params.CouponCode != "" {
		var coupon domain.Coupon
		err := tx.QueryRowContext(ctx, `
			SELECT id, code, type, value, min_cart_total_cents, max_discount_cents,
			       valid_from, valid_to, usage_limit, used_count, is_active
			FROM coupons
			WHERE code = $1
			FOR UPDATE
		`, params.CouponCode).Scan(&coupon.ID, &coupon.Code, &coupon.Type, &coupon.Value,
			&coupon.MinCartTotalCents, &coupon.MaxDiscountCents, &coupon.ValidFrom, &coupon.ValidTo,
			&coupon.UsageLimit, &coupon.UsedCount, &coupon.IsActive)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, domain.NewCouponError(params.CouponCode, domain.CouponReasonInvalid)
			}
			return nil, err
		}
		discount, err := coupon.Evaluate(itemsTotal, now)
		if err != nil {
			return nil, err
		}
		applied = &domain.AppliedCoupon{Code: coupon.Code, DiscountCents: discount}
		couponID = coupon.ID
	}

	shippingFee := int64(0)
	discountTotal := int64(0)
	if applied != nil {
		discountTotal = applied.DiscountCents
	}
	grandTotal := itemsTotal + shippingFee - discountTotal

	// The 4-digit suffix collides within a busy day, so probe before the
	// insert and regenerate. A residual race still lands on the unique index
	// and surfaces as ErrConflict.
	orderNo := ""
	for attempt := 0; attempt < 5; attempt++ {
		candidate := orderno.New(now)
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_no = $1)`, candidate).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			orderNo = candidate
			break
		}
	}
	if orderNo == "" {
		return nil, fmt.Errorf("%w: could not allocate order number", store.ErrConflict)
	}

	if couponID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, couponID); err != nil {
			return nil, err
		}
	}

	orderID := xid.New("ord")
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
			UPDATE product_variants SET stock_count = stock_count - $1 WHERE id = $2
		`, item.Qty, item.VariantID)
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, product_id, variant_id, direction, reason, qty, unit_cost_cents, order_id, note, at)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9)
		`, xid.New("led"), item.ProductID, item.VariantID, domain.LedgerDirectionOut, domain.LedgerReasonSale,
			item.Qty, orderID, "Order "+orderNo, now)
		if err != nil {
			return nil, err
		}
	}

	addrJSON, err := json.Marshal(params.ShippingAddress)
	if err != nil {
		return nil, err
	}
	var couponCode, couponDiscount any
	if applied != nil {
		couponCode = applied.Code
		couponDiscount = applied.DiscountCents
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_no, user_id, shipping_address, payment_method, payment_status,
			items_total_cents, shipping_fee_cents, discount_total_cents, grand_total_cents,
			coupon_code, coupon_discount_cents, status, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
	`, orderID, orderNo, params.UserID, addrJSON, params.PaymentMethod, domain.PaymentStatusUnpaid,
		itemsTotal, shippingFee, discountTotal, grandTotal, couponCode, couponDiscount,
		domain.OrderStatusPending, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order number collision", store.ErrConflict)
		}
		return nil, err
	}

	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, variant_id, name_snapshot, sku_snapshot, image_snapshot, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, orderID, i, item.ProductID, item.VariantID, item.NameSnapshot, item.SKUSnapshot, item.ImageSnapshot, item.Qty, item.UnitPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetOrderByNo(ctx, orderNo)
}

// --- orders ---

const orderColumns = `id, order_no, user_id, shipping_address, payment_method, payment_status,
	payment_transaction_id, paid_at, items_total_cents, shipping_fee_cents, discount_total_cents,
	grand_total_cents, coupon_code, coupon_discount_cents, status, courier, tracking_id,
	shipped_at, delivered_at, notes, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var o domain.Order
	var addrRaw []byte
	var couponCode sql.NullString
	var couponDiscount sql.NullInt64
	var courier, trackingID string
	var paidAt, shippedAt, deliveredAt sql.NullTime

	err := row.Scan(&o.ID, &o.OrderNo, &o.UserID, &addrRaw, &o.Payment.Method, &o.Payment.Status,
		&o.Payment.TransactionID, &paidAt, &o.Pricing.ItemsTotalCents, &o.Pricing.ShippingFeeCents,
		&o.Pricing.DiscountTotalCents, &o.Pricing.GrandTotalCents, &couponCode, &couponDiscount,
		&o.Status, &courier, &trackingID, &shippedAt, &deliveredAt, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(addrRaw, &o.ShippingAddress); err != nil {
		return nil, err
	}
	if paidAt.Valid {
		t := paidAt.Time
		o.Payment.PaidAt = &t
	}
	if couponCode.Valid {
		o.Coupon = &domain.AppliedCoupon{Code: couponCode.String, DiscountCents: couponDiscount.Int64}
	}
	if courier != "" || trackingID != "" || shippedAt.Valid || deliveredAt.Valid {
		o.Shipment = &domain.Shipment{Courier: courier, TrackingID: trackingID}
		if shippedAt.Valid {
			t := shippedAt.Time
			o.Shipment.ShippedAt = &t
		}
		if deliveredAt.Valid {
			t := deliveredAt.Time
			o.Shipment.DeliveredAt = &t
		}
	}
	return &o, nil
}

func (s *Store) loadOrderItems(ctx context.Context, q dbtx, orderID string) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, variant_id, name_snapshot, sku_snapshot, image_snapshot, qty, unit_price_cents
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 4)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.VariantID, &item.NameSnapshot, &item.SKUSnapshot,
			&item.ImageSnapshot, &item.Qty, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) GetOrderByNo(ctx context.Context, orderNo string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_no = $1`, orderNo))
	if err != nil {
		return nil, err
	}
	items, err := s.loadOrderItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *Store) listOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, s.db, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Store) ListOrders(ctx context.Context, status string, limit int) ([]domain.Order, error) {
	if limit < 1 {
		limit = 200
	}
	if status != "" {
		return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2`, status, limit)
	}
	return s.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, orderNo string, update domain.OrderStatusUpdateRequest) (*domain.Order, error) {
	if !domain.IsOrderStatus(update.Status) {
		return nil, fmt.Errorf("%w: status %q", store.ErrValidation, update.Status)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID, paymentMethod string
	var restockedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, payment_method, restocked_at FROM orders WHERE order_no = $1 FOR UPDATE
	`, orderNo).Scan(&orderID, &paymentMethod, &restockedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()

	// restocked_at guards the exactly-once restock even if the order
	// bounces out of cancelled and back.
	if update.Status == domain.OrderStatusCancelled && !restockedAt.Valid {
		items, err := s.loadOrderItems(ctx, tx, orderID)
		if err != nil {
			return nil, err
		}
		if err := restockItems(ctx, tx, items, orderID, domain.LedgerReasonCancelledOrder, "Cancelled order "+orderNo, now); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET restocked_at = $1 WHERE id = $2`, now, orderID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, update.Status, now, orderID); err != nil {
		return nil, err
	}

	switch update.Status {
	case domain.OrderStatusShipped:
		_, err = tx.ExecContext(ctx, `
			UPDATE orders
			SET courier = CASE WHEN $1 <> '' THEN $1 ELSE courier END,
			    tracking_id = CASE WHEN $2 <> '' THEN $2 ELSE tracking_id END,
			    shipped_at = $3
			WHERE id = $4
		`, update.Courier, update.TrackingID, now, orderID)
		if err != nil {
			return nil, err
		}
	case domain.OrderStatusDelivered:
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET delivered_at = $1 WHERE id = $2`, now, orderID); err != nil {
			return nil, err
		}
		if paymentMethod == domain.PaymentMethodCOD {
			_, err = tx.ExecContext(ctx, `
				UPDATE orders SET payment_status = $1, paid_at = $2 WHERE id = $3
			`, domain.PaymentStatusPaid, now, orderID)
			if err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetOrderByNo(ctx, orderNo)
}

// restockItems puts quantities back with one paired ledger IN entry per item.
// Items whose variant row no longer exists are skipped entirely so the ledger
// never records a movement that did not happen.
func restockItems(ctx context.Context, q dbtx, items []domain.OrderItem, orderID string, reason string, note string, now time.Time) error {
	for _, item := range items {
		res, err := q.ExecContext(ctx, `
			UPDATE product_variants SET stock_count = stock_count + $1 WHERE id = $2
		`, item.Qty, item.VariantID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_entries (id, product_id, variant_id, direction, reason, qty, unit_cost_cents, order_id, note, at)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7,$8,$9)
		`, xid.New("led"), item.ProductID, item.VariantID, domain.LedgerDirectionIn, reason, item.Qty, orderID, note, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// --- returns ---

const returnColumns = `id, order_id, order_no, user_id, items, status, refund_amount_cents,
	refund_method, refund_transaction_id, refunded_at, notes, created_at, updated_at`

func scanReturn(row interface{ Scan(...any) error }) (*domain.ReturnRequest, error) {
	var rr domain.ReturnRequest
	var itemsRaw []byte
	var refundAmount sql.NullInt64
	var refundMethod, refundTxID string
	var refundedAt sql.NullTime

	err := row.Scan(&rr.ID, &rr.OrderID, &rr.OrderNo, &rr.UserID, &itemsRaw, &rr.Status,
		&refundAmount, &refundMethod, &refundTxID, &refundedAt, &rr.Notes, &rr.CreatedAt, &rr.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if err := json.Unmarshal(itemsRaw, &rr.Items); err != nil {
		return nil, err
	}
	if refundAmount.Valid || refundMethod != "" || refundTxID != "" || refundedAt.Valid {
		rr.Refund = &domain.RefundInfo{
			AmountCents:   refundAmount.Int64,
			Method:        refundMethod,
			TransactionID: refundTxID,
		}
		if refundedAt.Valid {
			t := refundedAt.Time
			rr.Refund.RefundedAt = &t
		}
	}
	return &rr, nil
}

func (s *Store) CreateReturnRequest(ctx context.Context, rr domain.ReturnRequest) (*domain.ReturnRequest, error) {
	if rr.ID == "" || rr.OrderID == "" || len(rr.Items) == 0 {
		return nil, store.ErrValidation
	}

	itemsJSON, err := json.Marshal(rr.Items)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO return_requests (id, order_id, order_no, user_id, items, status, notes, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, rr.ID, rr.OrderID, rr.OrderNo, rr.UserID, itemsJSON, rr.Status, rr.Notes, rr.CreatedAt)
	if err != nil {
		return nil, err
	}
	return s.GetReturnByID(ctx, rr.ID)
}

func (s *Store) GetReturnByID(ctx context.Context, id string) (*domain.ReturnRequest, error) {
	return scanReturn(s.db.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE id = $1`, id))
}

func (s *Store) listReturns(ctx context.Context, query string, args ...any) ([]domain.ReturnRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.ReturnRequest, 0, 16)
	for rows.Next() {
		rr, err := scanReturn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rr)
	}
	return out, rows.Err()
}

func (s *Store) ListReturnsByUser(ctx context.Context, userID string) ([]domain.ReturnRequest, error) {
	return s.listReturns(ctx, `SELECT `+returnColumns+` FROM return_requests WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (s *Store) ListReturns(ctx context.Context, limit int) ([]domain.ReturnRequest, error) {
	if limit < 1 {
		limit = 200
	}
	return s.listReturns(ctx, `SELECT `+returnColumns+` FROM return_requests ORDER BY created_at DESC LIMIT $1`, limit)
}

func (s *Store) UpdateReturnStatus(ctx context.Context, id string, update domain.ReturnStatusUpdateRequest) (*domain.ReturnRequest, error) {
	if !domain.IsReturnStatus(update.Status) {
		return nil, fmt.Errorf("%w: status %q", store.ErrValidation, update.Status)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var orderID string
	var itemsRaw []byte
	var restockedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT order_id, items, restocked_at FROM return_requests WHERE id = $1 FOR UPDATE
	`, id).Scan(&orderID, &itemsRaw, &restockedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()

	if update.Status == domain.ReturnStatusReceived && !restockedAt.Valid {
		var returnItems []domain.ReturnItem
		if err := json.Unmarshal(itemsRaw, &returnItems); err != nil {
			return nil, err
		}
		items := make([]domain.OrderItem, 0, len(returnItems))
		for _, it := range returnItems {
			items = append(items, domain.OrderItem{ProductID: it.ProductID, VariantID: it.VariantID, Qty: it.Qty})
		}
		if err := restockItems(ctx, tx, items, orderID, domain.LedgerReasonReturn, "Return received (RR "+id+")", now); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET restocked_at = $1 WHERE id = $2`, now, id); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET status = $1, updated_at = $2 WHERE id = $3`, update.Status, now, id); err != nil {
		return nil, err
	}

	if update.Refund != nil {
		if update.Refund.AmountCents != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET refund_amount_cents = $1 WHERE id = $2`, *update.Refund.AmountCents, id); err != nil {
				return nil, err
			}
		}
		if update.Refund.Method != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET refund_method = $1 WHERE id = $2`, *update.Refund.Method, id); err != nil {
				return nil, err
			}
		}
		if update.Refund.TransactionID != nil {
			if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET refund_transaction_id = $1 WHERE id = $2`, *update.Refund.TransactionID, id); err != nil {
				return nil, err
			}
		}
	}
	if update.Status == domain.ReturnStatusRefunded {
		if _, err := tx.ExecContext(ctx, `UPDATE return_requests SET refunded_at = $1 WHERE id = $2`, now, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetReturnByID(ctx, id)
}

func (s *Store) GetRequestedReturnQty(ctx context.Context, orderID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT items FROM return_requests WHERE order_id = $1 AND status <> $2
	`, orderID, domain.ReturnStatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var itemsRaw []byte
		if err := rows.Scan(&itemsRaw); err != nil {
			return nil, err
		}
		var items []domain.ReturnItem
		if err := json.Unmarshal(itemsRaw, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			totals[it.ProductID+"|"+it.VariantID] += it.Qty
		}
	}
	return totals, rows.Err()
}

// --- inventory ---

func (s *Store) StockIn(ctx context.Context, productID string, variantID string, qty int, unitCostCents int64, note string) (*domain.StockMovementResponse, error) {
	if qty < 1 {
		return nil, store.ErrValidation
	}
	if note == "" {
		note = "Stock IN"
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT stock_count FROM product_variants WHERE id = $1 AND product_id = $2 FOR UPDATE
	`, variantID, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, variantID)
		}
		return nil, err
	}

	newStock := current + qty
	if _, err := tx.ExecContext(ctx, `UPDATE product_variants SET stock_count = $1 WHERE id = $2`, newStock, variantID); err != nil {
		return nil, err
	}

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
	if err := insertLedger(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &domain.StockMovementResponse{ProductID: productID, VariantID: variantID, NewStock: newStock, Ledger: &entry}, nil
}

func (s *Store) AdjustStock(ctx context.Context, productID string, variantID string, newCount int, note string) (*domain.StockMovementResponse, error) {
	if newCount < 0 {
		return nil, store.ErrValidation
	}
	if note == "" {
		note = "Manual stock adjustment"
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT stock_count FROM product_variants WHERE id = $1 AND product_id = $2 FOR UPDATE
	`, variantID, productID).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: variant %s", store.ErrNotFound, variantID)
		}
		return nil, err
	}

	resp := &domain.StockMovementResponse{ProductID: productID, VariantID: variantID, NewStock: newCount}
	diff := newCount - current
	if diff == 0 {
		return resp, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `UPDATE product_variants SET stock_count = $1 WHERE id = $2`, newCount, variantID); err != nil {
		return nil, err
	}

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
	if err := insertLedger(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	resp.Ledger = &entry
	return resp, nil
}

func insertLedger(ctx context.Context, q dbtx, entry domain.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, product_id, variant_id, direction, reason, qty, unit_cost_cents, order_id, note, at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, entry.ID, entry.ProductID, entry.VariantID, entry.Direction, entry.Reason, entry.Qty,
		entry.UnitCostCents, nullIfEmpty(entry.OrderID), entry.Note, entry.At)
	return err
}

func (s *Store) ListLedger(ctx context.Context, productID string, variantID string, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 200
	}

	query := `SELECT id, product_id, variant_id, direction, reason, qty, unit_cost_cents, COALESCE(order_id, ''), note, at FROM ledger_entries`
	args := make([]any, 0, 3)
	where := ""
	if productID != "" {
		args = append(args, productID)
		where = fmt.Sprintf(" WHERE product_id = $%d", len(args))
	}
	if variantID != "" {
		args = append(args, variantID)
		clause := fmt.Sprintf("variant_id = $%d", len(args))
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
	}
	args = append(args, limit)
	query += where + fmt.Sprintf(" ORDER BY at DESC, id DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 32)
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.VariantID, &e.Direction, &e.Reason, &e.Qty,
			&e.UnitCostCents, &e.OrderID, &e.Note, &e.At); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- coupons ---

const couponColumns = `id, code, type, value, min_cart_total_cents, max_discount_cents, valid_from, valid_to, usage_limit, used_count, is_active, created_at`

func scanCoupon(row interface{ Scan(...any) error }) (*domain.Coupon, error) {
	var c domain.Coupon
	err := row.Scan(&c.ID, &c.Code, &c.Type, &c.Value, &c.MinCartTotalCents, &c.MaxDiscountCents,
		&c.ValidFrom, &c.ValidTo, &c.UsageLimit, &c.UsedCount, &c.IsActive, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateCoupon(ctx context.Context, coupon domain.Coupon) (*domain.Coupon, error) {
	if coupon.Code == "" {
		return nil, store.ErrValidation
	}
	if coupon.ID == "" {
		coupon.ID = xid.New("coup")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, code, type, value, min_cart_total_cents, max_discount_cents, valid_from, valid_to, usage_limit, used_count, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,0,$10,now())
	`, coupon.ID, coupon.Code, coupon.Type, coupon.Value, coupon.MinCartTotalCents, coupon.MaxDiscountCents,
		coupon.ValidFrom, coupon.ValidTo, coupon.UsageLimit, coupon.IsActive)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: coupon code %s", store.ErrConflict, coupon.Code)
		}
		return nil, err
	}
	return s.GetCouponByCode(ctx, coupon.Code)
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	return scanCoupon(s.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code = $1`, code))
}

func (s *Store) ListCoupons(ctx context.Context) ([]domain.Coupon, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+couponColumns+` FROM coupons ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	coupons := make([]domain.Coupon, 0, 16)
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, *c)
	}
	return coupons, rows.Err()
}

func (s *Store) SetCouponActive(ctx context.Context, id string, active bool) (*domain.Coupon, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE coupons SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, store.ErrNotFound
	}
	return scanCoupon(s.db.QueryRowContext(ctx, `SELECT `+couponColumns+` FROM coupons WHERE id = $1`, id))
}

// --- users ---

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, user.ID, user.Email, user.PasswordHash, user.Name, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, name, role, active, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// --- audit ---

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, 32)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// --- helpers ---

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func attrsOrEmpty(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return attrs
}
