package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/database"
	"github.com/tourbooking/booking-flow/internal/models"
)

func main() {
	var (
		bookingID string
		asJSON    bool
	)
	flag.StringVar(&bookingID, "booking", "", "booking ID to show the payment audit trail for")
	flag.BoolVar(&asJSON, "json", false, "print entries as JSON")
	flag.Parse()

	if bookingID == "" {
		log.Fatal("-booking is required")
	}

	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	driver := os.Getenv("DATABASE_DRIVER")
	if driver == "" {
		driver = "postgres"
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(config.DatabaseConfig{
		URL:                dbURL,
		Driver:             driver,
		MaxConnections:     2,
		MaxIdleConnections: 1,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo := database.NewPaymentAuditRepository(db, logger)
	audits, err := repo.GetByBookingID(ctx, bookingID)
	if err != nil {
		log.Fatalf("Failed to load audit trail: %v", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(audits); err != nil {
			log.Fatalf("Failed to encode audit trail: %v", err)
		}
		return
	}

	if len(audits) == 0 {
		fmt.Printf("No audit entries for booking %s\n", bookingID)
		return
	}

	fmt.Printf("=== Payment audit trail: %s (%d entries) ===\n\n", bookingID, len(audits))
	for _, a := range audits {
		fmt.Println(formatAudit(a))
	}
}

func formatAudit(a *models.PaymentAudit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %-20s %-14s", a.CreatedAt.Format(time.RFC3339), a.EventType, a.EventSource)
	if a.FromStatus != nil || a.ToStatus != nil {
		fmt.Fprintf(&b, " %s -> %s", deref(a.FromStatus), deref(a.ToStatus))
	}
	if a.PaymentStatus != nil {
		fmt.Fprintf(&b, " payment=%s", *a.PaymentStatus)
	}
	if a.Amount != nil {
		fmt.Fprintf(&b, " amount=%d", *a.Amount)
	}
	if a.ErrorMessage != nil {
		fmt.Fprintf(&b, " error=%q", *a.ErrorMessage)
	}
	if a.IPAddress != nil {
		fmt.Fprintf(&b, " ip=%s", *a.IPAddress)
	}
	return b.String()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
