package models

import (
	"time"
)

// TransactionProvider identifies who settles a payment attempt
type TransactionProvider string

const (
	ProviderFlutterwave  TransactionProvider = "flutterwave"
	ProviderInterswitch  TransactionProvider = "interswitch"
	ProviderBankTransfer TransactionProvider = "bank_transfer"
)

// TransactionStatus represents the state of a payment attempt
type TransactionStatus string

const (
	TransactionStatusInit    TransactionStatus = "init"
	TransactionStatusPending TransactionStatus = "pending"
	TransactionStatusSuccess TransactionStatus = "success"
	TransactionStatusFailed  TransactionStatus = "failed"
)

// Transaction is one payment attempt against a booking
type Transaction struct {
	ID                int64               `json:"id" db:"id"`
	BookingID         int64               `json:"booking_id" db:"booking_id"`
	Reference         string              `json:"reference" db:"reference"`
	Amount            float64             `json:"amount" db:"amount"`
	Provider          TransactionProvider `json:"provider" db:"provider"`
	Status            TransactionStatus   `json:"status" db:"status"`
	ProviderReference *string             `json:"provider_reference,omitempty" db:"provider_reference"`
	FlutterwaveID     *string             `json:"flutterwave_id,omitempty" db:"flutterwave_id"`
	ReceiptPath       *string             `json:"receipt_path,omitempty" db:"receipt_path"`
	ReceiptDigest     *string             `json:"receipt_digest,omitempty" db:"receipt_digest"`
	Meta              JSONB               `json:"meta" db:"meta"`
	CreatedAt         time.Time           `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at" db:"updated_at"`
}

// HasReceipt reports whether a bank transfer receipt has been attached
func (t *Transaction) HasReceipt() bool {
	return t.ReceiptPath != nil && *t.ReceiptPath != ""
}

// IsGateway reports whether the transaction is verified against the card gateway
func (t *Transaction) IsGateway() bool {
	return t.Provider == ProviderFlutterwave
}

// PaymentRecordStatus is the status of the authoritative payment row
type PaymentRecordStatus string

const (
	PaymentRecordUnpaid   PaymentRecordStatus = "unpaid"
	PaymentRecordPaid     PaymentRecordStatus = "paid"
	PaymentRecordRefunded PaymentRecordStatus = "refunded"
)

// Payment is the single "this booking is paid" record, one per booking
type Payment struct {
	ID        int64               `json:"id" db:"id"`
	BookingID int64               `json:"booking_id" db:"booking_id"`
	Amount    float64             `json:"amount" db:"amount"`
	Provider  TransactionProvider `json:"provider" db:"provider"`
	Status    PaymentRecordStatus `json:"status" db:"status"`
	Reference string              `json:"reference" db:"reference"`
	PaidAt    *time.Time          `json:"paid_at,omitempty" db:"paid_at"`
}

// PaymentDivergence is a paid payment whose booking is not marked paid
type PaymentDivergence struct {
	BookingID     int64                `json:"booking_id" db:"booking_id"`
	Reference     string               `json:"reference" db:"reference"`
	BookingStatus BookingStatus        `json:"booking_status" db:"booking_status"`
	PaymentStatus BookingPaymentStatus `json:"payment_status" db:"payment_status"`
}
