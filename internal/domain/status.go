package domain

const (
	OrderStatusPending    = "pending"
	OrderStatusConfirmed  = "confirmed"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
	OrderStatusReturned   = "returned"
)

const (
	PaymentStatusUnpaid        = "unpaid"
	PaymentStatusPaid          = "paid"
	PaymentStatusFailed        = "failed"
	PaymentStatusRefunded      = "refunded"
	PaymentStatusPartialRefund = "partial_refund"
)

const (
	PaymentMethodCOD   = "COD"
	PaymentMethodBkash = "BKASH"
	PaymentMethodNagad = "NAGAD"
	PaymentMethodCard  = "CARD"
	PaymentMethodBank  = "BANK"
)

const (
	ReturnStatusRequested = "requested"
	ReturnStatusApproved  = "approved"
	ReturnStatusRejected  = "rejected"
	ReturnStatusPicked    = "picked"
	ReturnStatusReceived  = "received"
	ReturnStatusRefunded  = "refunded"
)

const (
	LedgerDirectionIn  = "IN"
	LedgerDirectionOut = "OUT"
)

const (
	LedgerReasonPurchase       = "PURCHASE"
	LedgerReasonSale           = "SALE"
	LedgerReasonReturn         = "RETURN"
	LedgerReasonDamage         = "DAMAGE"
	LedgerReasonManual         = "MANUAL"
	LedgerReasonCancelledOrder = "CANCELLED_ORDER"
)

const (
	CouponTypePercent = "PERCENT"
	CouponTypeFixed   = "FIXED"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var orderStatuses = map[string]bool{
	OrderStatusPending:    true,
	OrderStatusConfirmed:  true,
	OrderStatusProcessing: true,
	OrderStatusShipped:    true,
	OrderStatusDelivered:  true,
	OrderStatusCancelled:  true,
	OrderStatusReturned:   true,
}

func IsOrderStatus(s string) bool {
	return orderStatuses[s]
}

var returnStatuses = map[string]bool{
	ReturnStatusRequested: true,
	ReturnStatusApproved:  true,
	ReturnStatusRejected:  true,
	ReturnStatusPicked:    true,
	ReturnStatusReceived:  true,
	ReturnStatusRefunded:  true,
}

func IsReturnStatus(s string) bool {
	return returnStatuses[s]
}

var paymentMethods = map[string]bool{
	PaymentMethodCOD:   true,
	PaymentMethodBkash: true,
	PaymentMethodNagad: true,
	PaymentMethodCard:  true,
	PaymentMethodBank:  true,
}

func IsPaymentMethod(m string) bool {
	return paymentMethods[m]
}

var ledgerReasons = map[string]bool{
	LedgerReasonPurchase:       true,
	LedgerReasonSale:           true,
	LedgerReasonReturn:         true,
	LedgerReasonDamage:         true,
	LedgerReasonManual:         true,
	LedgerReasonCancelledOrder: true,
}

func IsLedgerReason(r string) bool {
	return ledgerReasons[r]
}
