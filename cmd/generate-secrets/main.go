package main

import (
	"fmt"
	"log"

	"github.com/tourhub/booking-backend/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for TourHub booking backend")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, err := utils.GenerateSecret(64)
	if err != nil {
		log.Fatalf("Failed to generate JWT secret: %v", err)
	}
	webhookHash, err := utils.GenerateSecret(32)
	if err != nil {
		log.Fatalf("Failed to generate webhook hash: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("FLUTTERWAVE_SECRET_HASH=%s\n", webhookHash)
	fmt.Println()
	fmt.Println("Set the same FLUTTERWAVE_SECRET_HASH as the webhook secret hash in the Flutterwave dashboard.")
	fmt.Println("Keep these secrets out of version control.")
	fmt.Println("===========================================")
}
