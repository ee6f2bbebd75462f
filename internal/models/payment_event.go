package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventWebhookReceived        PaymentEventType = "webhook_received"
	PaymentEventWebhookRejected        PaymentEventType = "webhook_rejected"
	PaymentEventVerifyResponse         PaymentEventType = "verify_response"
	PaymentEventVerifyError            PaymentEventType = "verify_error"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventReceiptUploaded        PaymentEventType = "receipt_uploaded"
	PaymentEventBankApproved           PaymentEventType = "bank_transfer_approved"
	PaymentEventBankRejected           PaymentEventType = "bank_transfer_rejected"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceFlutterwaveWebhook PaymentEventSource = "flutterwave_webhook"
	PaymentSourceFlutterwaveAPI     PaymentEventSource = "flutterwave_api"
	PaymentSourceAdmin              PaymentEventSource = "admin"
	PaymentSourceUser               PaymentEventSource = "user"
	PaymentSourceSystem             PaymentEventSource = "system"
)

// RequestMeta carries client details of the HTTP request that triggered an event
type RequestMeta struct {
	IP        string
	UserAgent string
}

// PaymentEvent is an immutable audit row for every gateway or bank interaction
type PaymentEvent struct {
	ID                   uuid.UUID          `json:"id" db:"id"`
	TransactionReference *string            `json:"transaction_reference,omitempty" db:"transaction_reference"`
	BookingID            *int64             `json:"booking_id,omitempty" db:"booking_id"`
	EventType            PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource          PaymentEventSource `json:"event_source" db:"event_source"`
	ActorID              *uuid.UUID         `json:"actor_id,omitempty" db:"actor_id"`

	ExpectedAmount *float64 `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *float64 `json:"received_amount,omitempty" db:"received_amount"`
	AmountsMatch   *bool    `json:"amounts_match,omitempty" db:"amounts_match"`

	GatewayStatus        *string `json:"gateway_status,omitempty" db:"gateway_status"`
	GatewayTransactionID *string `json:"gateway_transaction_id,omitempty" db:"gateway_transaction_id"`

	Payload        JSONB   `json:"payload,omitempty" db:"payload"`
	HTTPStatusCode *int    `json:"http_status_code,omitempty" db:"http_status_code"`
	ErrorMessage   *string `json:"error_message,omitempty" db:"error_message"`

	ProcessingTimeMs *int `json:"processing_time_ms,omitempty" db:"processing_time_ms"`
	IsDuplicate      bool `json:"is_duplicate" db:"is_duplicate"`

	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	DeviceType *string `json:"device_type,omitempty" db:"device_type"`
	Platform   *string `json:"platform,omitempty" db:"platform"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentEvent creates a new payment event with required fields
func NewPaymentEvent(eventType PaymentEventType, source PaymentEventSource) *PaymentEvent {
	return &PaymentEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// ForTransaction links the event to a transaction and its booking
func (e *PaymentEvent) ForTransaction(txn *Transaction) *PaymentEvent {
	if txn == nil {
		return e
	}
	ref := txn.Reference
	bookingID := txn.BookingID
	e.TransactionReference = &ref
	e.BookingID = &bookingID
	return e
}

// SetReference sets the transaction reference without a loaded transaction
func (e *PaymentEvent) SetReference(ref string) *PaymentEvent {
	if ref != "" {
		e.TransactionReference = &ref
	}
	return e
}

// SetActor records who triggered the event
func (e *PaymentEvent) SetActor(actor Actor) *PaymentEvent {
	e.ActorID = actor.UserID
	return e
}

// SetAmounts sets and compares amounts, returning whether they match
func (e *PaymentEvent) SetAmounts(expected, received float64) bool {
	e.ExpectedAmount = &expected
	e.ReceivedAmount = &received

	const tolerance = 0.01
	diff := expected - received
	if diff < 0 {
		diff = -diff
	}
	match := diff < tolerance
	e.AmountsMatch = &match
	return match
}

// SetGateway records the status and id reported by the gateway
func (e *PaymentEvent) SetGateway(status, transactionID string) *PaymentEvent {
	if status != "" {
		e.GatewayStatus = &status
	}
	if transactionID != "" {
		e.GatewayTransactionID = &transactionID
	}
	return e
}

// SetPayload stores the raw payload exchanged
func (e *PaymentEvent) SetPayload(payload map[string]interface{}) *PaymentEvent {
	e.Payload = JSONB(payload)
	return e
}

// SetHTTPStatus records the HTTP status returned to or by the gateway
func (e *PaymentEvent) SetHTTPStatus(code int) *PaymentEvent {
	e.HTTPStatusCode = &code
	return e
}

// SetError sets error information
func (e *PaymentEvent) SetError(message string) *PaymentEvent {
	e.ErrorMessage = &message
	return e
}

// SetRequest stores client details; device fields are filled by the caller that parses the agent
func (e *PaymentEvent) SetRequest(meta RequestMeta) *PaymentEvent {
	if meta.IP != "" {
		e.IPAddress = &meta.IP
	}
	if meta.UserAgent != "" {
		e.UserAgent = &meta.UserAgent
	}
	return e
}

// SetDevice stores parsed user agent details
func (e *PaymentEvent) SetDevice(deviceType, platform string) *PaymentEvent {
	if deviceType != "" {
		e.DeviceType = &deviceType
	}
	if platform != "" {
		e.Platform = &platform
	}
	return e
}

// SetProcessingTime calculates and sets processing time
func (e *PaymentEvent) SetProcessingTime(startTime time.Time) *PaymentEvent {
	durationMs := int(time.Since(startTime).Milliseconds())
	e.ProcessingTimeMs = &durationMs
	return e
}

// MarkAsDuplicate marks this event as a replay of an already processed one
func (e *PaymentEvent) MarkAsDuplicate() *PaymentEvent {
	e.IsDuplicate = true
	return e
}
