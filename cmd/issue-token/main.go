package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/pawtrait/pawtrait-api/internal/config"
	"github.com/pawtrait/pawtrait-api/internal/domain/credit"
	"github.com/pawtrait/pawtrait-api/internal/pkg/database"
	"github.com/pawtrait/pawtrait-api/internal/pkg/jwt"
)

// issue-token mints a session token for local testing of the API.
//
//	go run ./cmd/issue-token -user <id> [-email a@b.c] [-grant 200]
func main() {
	userID := flag.String("user", "", "user id to put in the token subject")
	email := flag.String("email", "", "optional email claim")
	grant := flag.Int("grant", 0, "bonus credits to add to the user before issuing")
	flag.Parse()

	if *userID == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()

	if *grant > 0 {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.ClosePostgres(db)

		if err := database.Migrate(context.Background(), db); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}

		credits := credit.NewService(credit.NewRepository(db))
		if err := credits.AddCredits(context.Background(), *userID, *grant, credit.TxTypeBonus, "Developer grant", ""); err != nil {
			log.Fatalf("Failed to grant credits: %v", err)
		}
		balance, err := credits.GetBalance(context.Background(), *userID)
		if err != nil {
			log.Fatalf("Failed to read balance: %v", err)
		}
		fmt.Fprintf(os.Stderr, "balance for %s: %d\n", *userID, balance)
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTTokenTTL)
	token, err := jwtService.GenerateSessionToken(*userID, *email)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}
	fmt.Fprintf(os.Stderr, "token valid for %s\n", jwtService.TTL())
	fmt.Println(token)
}
