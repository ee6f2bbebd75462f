package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tourhub/booking-backend/internal/models"
)

func chargeCompleted(reference string, flutterwaveID int64) []byte {
	return []byte(fmt.Sprintf(`{"event":"charge.completed","data":{"id":%d,"tx_ref":%q,"status":"successful","amount":100}}`, flutterwaveID, reference))
}

func TestReconcilerService_ValidSignature(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		want   bool
	}{
		{"matching header", "abc", "abc", true},
		{"missing header", "abc", "", false},
		{"wrong header", "abc", "abd", false},
		{"prefix of secret", "abc", "ab", false},
		{"secret not configured", "", "", false},
		{"secret not configured with header", "", "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &ReconcilerService{webhookSecret: tt.secret}
			assert.Equal(t, tt.want, r.ValidSignature(tt.header))
		})
	}
}

func TestReconcilerService_HandleWebhook(t *testing.T) {
	ctx := context.Background()
	meta := models.RequestMeta{IP: "52.1.2.3", UserAgent: "Flutterwave-Webhook/1.0"}

	t.Run("bad signatures never reach the ledger", func(t *testing.T) {
		for _, signature := range []string{"", "wrong", testWebhookSecret + " "} {
			f := setupPayments(t)
			f.gatewayTxn("TXN-C", "4455", models.TransactionStatusInit)
			f.verifier.respond("4455", FlutterwaveStatusSuccessful, 100)

			text, err := f.reconciler.HandleWebhook(ctx, signature, chargeCompleted("TXN-C", 4455), meta)

			assert.Equal(t, WebhookInvalidSignature, text)
			assert.ErrorIs(t, err, ErrForbidden)
			txn := f.txns.get("TXN-C")
			assert.Equal(t, models.TransactionStatusInit, txn.Status)
			assert.Empty(t, txn.Meta)
			assert.Zero(t, f.verifier.callCount())
			assert.Equal(t, 1, f.events.count(models.PaymentEventWebhookRejected))
		}
	})

	t.Run("unset secret rejects everything", func(t *testing.T) {
		f := setupPayments(t)
		f.reconciler.webhookSecret = ""
		f.gatewayTxn("TXN-C", "4455", models.TransactionStatusInit)

		_, err := f.reconciler.HandleWebhook(ctx, "", chargeCompleted("TXN-C", 4455), meta)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("successful charge settles and replay is acknowledged", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-C", "", models.TransactionStatusInit)
		f.verifier.respond("4455", FlutterwaveStatusSuccessful, 100)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		text, err := f.reconciler.HandleWebhook(ctx, testWebhookSecret, chargeCompleted("TXN-C", 4455), meta)

		require.NoError(t, err)
		assert.Equal(t, WebhookProcessed, text)

		txn := f.txns.get("TXN-C")
		assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
		require.NotNil(t, txn.FlutterwaveID)
		assert.Equal(t, "4455", *txn.FlutterwaveID)
		assert.Contains(t, txn.Meta, "flutterwave_webhook")
		assert.Contains(t, txn.Meta, "last_fw_verify")
		assert.Contains(t, txn.Meta, "last_verify_time")

		payment := f.payments.payments[f.bookingID]
		require.NotNil(t, payment)
		assert.Equal(t, models.PaymentRecordPaid, payment.Status)

		booking := f.bookings.get(f.bookingID)
		assert.Equal(t, models.PaymentStatusPaid, booking.PaymentStatus)
		assert.Equal(t, models.BookingStatusConfirmed, booking.Status)
		notices := len(f.dispatcher.messages())

		text, err = f.reconciler.HandleWebhook(ctx, testWebhookSecret, chargeCompleted("TXN-C", 4455), meta)

		require.NoError(t, err)
		assert.Equal(t, WebhookAlreadyProcessed, text)
		assert.Equal(t, 1, f.verifier.callCount())
		assert.Equal(t, 1, f.payments.upserts)
		assert.Len(t, f.dispatcher.messages(), notices)
		assert.Equal(t, 1, f.events.count(models.PaymentEventSuccess))
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("failed charge marks the transaction failed", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-C", "4455", models.TransactionStatusInit)
		f.verifier.respond("4455", FlutterwaveStatusFailed, 100)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		text, err := f.reconciler.HandleWebhook(ctx, testWebhookSecret, chargeCompleted("TXN-C", 4455), meta)

		require.NoError(t, err)
		assert.Equal(t, WebhookProcessed, text)
		txn := f.txns.get("TXN-C")
		assert.Equal(t, models.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "Gateway returned failed/cancelled", txn.Meta["failure_reason"])
		assert.Equal(t, models.PaymentStatusUnpaid, f.bookings.get(f.bookingID).PaymentStatus)
	})

	t.Run("gateway outage is a verification error", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-C", "4455", models.TransactionStatusInit)
		f.verifier.err = fmt.Errorf("timeout: %w", ErrUpstreamGateway)

		text, err := f.reconciler.HandleWebhook(ctx, testWebhookSecret, chargeCompleted("TXN-C", 4455), meta)

		assert.Equal(t, WebhookVerificationError, text)
		assert.ErrorIs(t, err, ErrUpstreamGateway)
		assert.Equal(t, models.TransactionStatusInit, f.txns.get("TXN-C").Status)
		assert.Equal(t, 1, f.events.count(models.PaymentEventVerifyError))
	})

	t.Run("payload problems", func(t *testing.T) {
		f := setupPayments(t)

		text, err := f.reconciler.HandleWebhook(ctx, testWebhookSecret, []byte(`{not json`), meta)
		assert.Equal(t, WebhookInvalidJSON, text)
		var vErr *ValidationError
		assert.True(t, errors.As(err, &vErr))

		text, err = f.reconciler.HandleWebhook(ctx, testWebhookSecret, []byte(`{"event":"transfer.completed","data":{}}`), meta)
		assert.NoError(t, err)
		assert.Equal(t, WebhookIgnored, text)

		text, err = f.reconciler.HandleWebhook(ctx, testWebhookSecret, []byte(`{"event":"charge.completed","data":{"id":1}}`), meta)
		assert.Equal(t, WebhookMissingTxRef, text)
		assert.True(t, errors.As(err, &vErr))

		text, err = f.reconciler.HandleWebhook(ctx, testWebhookSecret, chargeCompleted("TXN-UNKNOWN", 1), meta)
		assert.Equal(t, WebhookUnknownTxn, text)
		assert.ErrorIs(t, err, ErrUnknownTransaction)
		assert.Zero(t, f.verifier.callCount())
	})
}

func TestReconcilerService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("bank transfers are ignored", func(t *testing.T) {
		f := setupPayments(t)
		f.bankTxn("BANK-1", true)

		result, err := f.reconciler.Verify(ctx, "BANK-1")

		require.NoError(t, err)
		assert.Equal(t, VerifyIgnored, result.Outcome)
		assert.Zero(t, f.verifier.callCount())
	})

	t.Run("charge not yet at the gateway stays pending", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "", models.TransactionStatusInit)

		result, err := f.reconciler.Verify(ctx, "TXN-1")

		require.NoError(t, err)
		assert.Equal(t, VerifyPending, result.Outcome)
		assert.Nil(t, f.txns.get("TXN-1").FlutterwaveID)
		assert.Equal(t, models.TransactionStatusInit, f.txns.get("TXN-1").Status)
		assert.Equal(t, 0, f.events.count(models.PaymentEventVerifyError))
	})

	t.Run("missing gateway id is found by reference", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "", models.TransactionStatusInit)
		f.verifier.respondByReference("TXN-1", 4455, FlutterwaveStatusSuccessful, 100)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		result, err := f.reconciler.Verify(ctx, "TXN-1")

		require.NoError(t, err)
		assert.Equal(t, VerifySuccess, result.Outcome)
		txn := f.txns.get("TXN-1")
		assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
		require.NotNil(t, txn.FlutterwaveID)
		assert.Equal(t, "4455", *txn.FlutterwaveID)
		assert.Equal(t, models.PaymentStatusPaid, f.bookings.get(f.bookingID).PaymentStatus)
		assert.NoError(t, f.mock.ExpectationsWereMet())
	})

	t.Run("gateway trouble on reference lookup is reported", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "", models.TransactionStatusInit)
		f.verifier.err = ErrUpstreamGateway

		result, err := f.reconciler.Verify(ctx, "TXN-1")

		assert.ErrorIs(t, err, ErrUpstreamGateway)
		assert.Equal(t, VerifyPending, result.Outcome)
		assert.Equal(t, 1, f.events.count(models.PaymentEventVerifyError))
	})

	t.Run("gateway pending leaves the transaction alone", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "9", models.TransactionStatusInit)
		f.verifier.respond("9", "pending", 100)

		result, err := f.reconciler.Verify(ctx, "TXN-1")

		require.NoError(t, err)
		assert.Equal(t, VerifyPending, result.Outcome)
		assert.Equal(t, "pending", result.GatewayStatus)
		assert.Equal(t, models.TransactionStatusInit, f.txns.get("TXN-1").Status)
	})

	t.Run("amount mismatch is recorded but still settles", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "9", models.TransactionStatusPending)
		f.verifier.respond("9", FlutterwaveStatusSuccessful, 90)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		result, err := f.reconciler.Verify(ctx, "TXN-1")

		require.NoError(t, err)
		assert.Equal(t, VerifySuccess, result.Outcome)

		var verifyEvent *models.PaymentEvent
		for i := range f.events.events {
			if f.events.events[i].EventType == models.PaymentEventVerifyResponse {
				verifyEvent = &f.events.events[i]
			}
		}
		require.NotNil(t, verifyEvent)
		require.NotNil(t, verifyEvent.AmountsMatch)
		assert.False(t, *verifyEvent.AmountsMatch)
	})

	t.Run("manual retry reports gateway trouble as pending", func(t *testing.T) {
		f := setupPayments(t)
		f.gatewayTxn("TXN-1", "", models.TransactionStatusInit)
		f.verifier.err = ErrUpstreamGateway

		result, err := f.reconciler.RetryVerification(ctx, f.admin, "TXN-1")
		require.NoError(t, err)
		assert.Equal(t, VerifyPending, result.Outcome)

		_, err = f.reconciler.RetryVerification(ctx, f.customer, "TXN-1")
		assert.ErrorIs(t, err, ErrForbidden)
	})
}

func TestReconcilerService_Sweep(t *testing.T) {
	ctx := context.Background()
	f := setupPayments(t)

	f.gatewayTxn("TXN-OK", "1", models.TransactionStatusInit)
	f.gatewayTxn("TXN-WAIT", "2", models.TransactionStatusPending)
	f.gatewayTxn("TXN-DOWN", "3", models.TransactionStatusInit)
	f.gatewayTxn("TXN-DONE", "4", models.TransactionStatusSuccess)
	f.verifier.respond("1", FlutterwaveStatusSuccessful, 100)
	f.verifier.respond("2", "pending", 100)
	f.bankTxn("BANK-R", true)
	f.bankTxn("BANK-N", false)

	repairable := f.seedBooking(models.BookingStatusPending, false, 0)
	closed := f.seedBooking(models.BookingStatusCancelled, false, 0)
	f.payments.divergences = []models.PaymentDivergence{
		{BookingID: repairable, Reference: "TXN-OLD", BookingStatus: models.BookingStatusPending, PaymentStatus: models.PaymentStatusUnpaid},
		{BookingID: closed, Reference: "TXN-GONE", BookingStatus: models.BookingStatusCancelled, PaymentStatus: models.PaymentStatusUnpaid},
	}

	f.mock.ExpectBegin() // TXN-OK settles
	f.mock.ExpectCommit()
	f.mock.ExpectBegin() // booking repair
	f.mock.ExpectCommit()

	report, err := f.reconciler.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Verified)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Errors)
	assert.Len(t, report.PendingBankTransfers, 2)
	assert.Equal(t, 1, report.Repaired)
	require.Len(t, report.Flagged, 1)
	assert.Equal(t, closed, report.Flagged[0].BookingID)

	assert.Equal(t, models.TransactionStatusSuccess, f.txns.get("TXN-OK").Status)
	assert.Equal(t, models.PaymentStatusPaid, f.bookings.get(repairable).PaymentStatus)
	assert.Equal(t, models.PaymentStatusUnpaid, f.bookings.get(closed).PaymentStatus)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcilerService_SweepWithoutGatewayID(t *testing.T) {
	ctx := context.Background()
	f := setupPayments(t)

	f.gatewayTxn("TXN-ABANDONED", "", models.TransactionStatusInit)
	f.gatewayTxn("TXN-MISSED", "", models.TransactionStatusInit)
	f.verifier.respondByReference("TXN-MISSED", 9001, FlutterwaveStatusSuccessful, 100)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	report, err := f.reconciler.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Verified)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, models.TransactionStatusSuccess, f.txns.get("TXN-MISSED").Status)
	assert.Equal(t, "9001", *f.txns.get("TXN-MISSED").FlutterwaveID)
	assert.Equal(t, models.TransactionStatusInit, f.txns.get("TXN-ABANDONED").Status)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestReconcilerService_BankTransfers(t *testing.T) {
	ctx := context.Background()
	meta := models.RequestMeta{IP: "10.0.0.2", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)"}

	t.Run("approve settles a transfer with a receipt", func(t *testing.T) {
		f := setupPayments(t)
		f.bankTxn("BANK-1", true)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		require.NoError(t, f.reconciler.ApproveBankTransfer(ctx, f.admin, "BANK-1", meta))

		assert.Equal(t, models.TransactionStatusSuccess, f.txns.get("BANK-1").Status)
		assert.Equal(t, models.PaymentStatusPaid, f.bookings.get(f.bookingID).PaymentStatus)
		assert.Equal(t, models.ProviderBankTransfer, f.payments.payments[f.bookingID].Provider)
		assert.Equal(t, 1, f.events.count(models.PaymentEventBankApproved))
	})

	t.Run("approve requires a receipt", func(t *testing.T) {
		f := setupPayments(t)
		f.bankTxn("BANK-1", false)

		err := f.reconciler.ApproveBankTransfer(ctx, f.admin, "BANK-1", meta)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "Receipt missing", vErr.Error())
		assert.Equal(t, models.TransactionStatusPending, f.txns.get("BANK-1").Status)
	})

	t.Run("reject works without a receipt", func(t *testing.T) {
		f := setupPayments(t)
		f.bankTxn("BANK-1", false)
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()

		require.NoError(t, f.reconciler.RejectBankTransfer(ctx, f.admin, "BANK-1", meta))

		txn := f.txns.get("BANK-1")
		assert.Equal(t, models.TransactionStatusFailed, txn.Status)
		assert.Equal(t, "Admin rejected transfer", txn.Meta["failure_reason"])
		assert.Equal(t, 1, f.events.count(models.PaymentEventBankRejected))
	})

	t.Run("guards", func(t *testing.T) {
		f := setupPayments(t)
		f.bankTxn("BANK-1", true)
		f.bankTxn("BANK-DONE", true)
		f.txns.txns["BANK-DONE"].Status = models.TransactionStatusSuccess
		f.gatewayTxn("TXN-1", "1", models.TransactionStatusInit)

		assert.ErrorIs(t, f.reconciler.ApproveBankTransfer(ctx, f.customer, "BANK-1", meta), ErrForbidden)
		assert.ErrorIs(t, f.reconciler.RejectBankTransfer(ctx, models.NewActor(uuid.New(), models.RoleOperator, ""), "BANK-1", meta), ErrForbidden)
		assert.ErrorIs(t, f.reconciler.ApproveBankTransfer(ctx, f.admin, "BANK-DONE", meta), ErrAlreadyProcessed)
		assert.ErrorIs(t, f.reconciler.RejectBankTransfer(ctx, f.admin, "BANK-NOPE", meta), ErrUnknownTransaction)

		err := f.reconciler.ApproveBankTransfer(ctx, f.admin, "TXN-1", meta)
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "Not a bank transfer", vErr.Error())
	})
}

func TestReconcilerService_ForceSuccess(t *testing.T) {
	ctx := context.Background()
	f := setupPayments(t)
	f.gatewayTxn("TXN-1", "", models.TransactionStatusInit)
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	_, err := f.reconciler.ForceSuccess(ctx, f.customer, "TXN-1", models.RequestMeta{})
	assert.ErrorIs(t, err, ErrForbidden)

	changed, err := f.reconciler.ForceSuccess(ctx, f.admin, "TXN-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.reconciler.ForceSuccess(ctx, f.admin, "TXN-1", models.RequestMeta{})
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Equal(t, models.PaymentStatusPaid, f.bookings.get(f.bookingID).PaymentStatus)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
