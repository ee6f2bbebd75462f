package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tourhub/booking-backend/internal/config"
	"github.com/tourhub/booking-backend/internal/database"
	"github.com/tourhub/booking-backend/internal/services"
)

func main() {
	var timeout time.Duration
	flag.DurationVar(&timeout, "timeout", 10*time.Minute, "maximum duration of the sweep")
	flag.Parse()

	os.Exit(run(timeout))
}

// run performs one sweep and returns the process exit code
func run(timeout time.Duration) int {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Server.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.NewConnection(cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	serviceRepo := database.NewServiceRepository(db.DB)
	bookingRepo := database.NewBookingRepository(db.DB)
	paymentRepo := database.NewPaymentRepository(db.DB)
	eventRepo := database.NewPaymentEventRepository(db.DB, logger)

	// notifications raised by repairs are stored for the inbox; the broker relay is left to the server
	notifications := services.NewNotificationService(database.NewNotificationRepository(db.DB), nil, cfg.Relay.RoutingKey, logger)
	ledger := services.NewCapacityLedger(serviceRepo, logger)
	bookings := services.NewBookingService(db.DB, bookingRepo, serviceRepo, ledger, notifications, logger)
	txns := services.NewTransactionService(
		db.DB,
		database.NewTransactionRepository(db.DB),
		paymentRepo,
		bookings,
		eventRepo,
		notifications,
		cfg.Receipts,
		logger,
	)
	reconciler := services.NewReconcilerService(
		txns,
		services.NewFlutterwaveService(&cfg.Payment, logger),
		paymentRepo,
		bookings,
		eventRepo,
		cfg.Payment.WebhookSecretHash,
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	report, err := reconciler.Sweep(ctx)
	if err != nil {
		logger.Fatalf("Reconciliation sweep failed: %v", err)
	}

	printReport(report)
	if len(report.Flagged) > 0 || report.Errors > 0 {
		return 1
	}
	return 0
}

func printReport(report *services.SweepReport) {
	fmt.Printf("Sweep finished in %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	fmt.Printf("  verified:  %d (succeeded %d, failed %d, pending %d, errors %d)\n",
		report.Verified, report.Succeeded, report.Failed, report.Pending, report.Errors)
	fmt.Printf("  repaired:  %d\n", report.Repaired)

	if len(report.Flagged) > 0 {
		fmt.Println()
		fmt.Println("Needs manual action (payment recorded, booking closed):")
		for _, d := range report.Flagged {
			fmt.Printf("  booking %d  reference %s  status %s/%s\n", d.BookingID, d.Reference, d.BookingStatus, d.PaymentStatus)
		}
	}

	fmt.Println()
	if len(report.PendingBankTransfers) == 0 {
		fmt.Println("No bank transfers awaiting review")
		return
	}
	fmt.Printf("Bank transfers awaiting review (%d):\n", len(report.PendingBankTransfers))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  REFERENCE\tBOOKING\tAMOUNT\tRECEIPT")
	for _, t := range report.PendingBankTransfers {
		receipt := "missing"
		if t.HasReceipt {
			receipt = "uploaded"
		}
		fmt.Fprintf(w, "  %s\t%d\t%.2f\t%s\n", t.Reference, t.BookingID, t.Amount, receipt)
	}
	w.Flush()
}
