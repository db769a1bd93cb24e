package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/apitoken"
	"github.com/hairizuanbinnoorazman/browser-relay/database"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	tokenName   string
	tokenExpiry time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "API token management commands",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Mint a new API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenName == "" {
			return fmt.Errorf("token name is required")
		}

		db, err := openTokenDB()
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database instance: %w", err)
		}
		defer sqlDB.Close()

		raw, hash, err := apitoken.GenerateToken()
		if err != nil {
			return fmt.Errorf("failed to generate token: %w", err)
		}

		store := apitoken.NewMySQLStore(db, logger.Nop{})
		token := &apitoken.APIToken{
			Name:      tokenName,
			TokenHash: hash,
			IsActive:  true,
			ExpiresAt: time.Now().Add(tokenExpiry),
		}
		if err := store.Create(context.Background(), token); err != nil {
			return fmt.Errorf("failed to store token: %w", err)
		}

		// The raw value is not recoverable after this point.
		fmt.Printf("Token created: %s\n", token.ID)
		fmt.Printf("Secret (shown once): %s\n", raw)
		fmt.Printf("Expires: %s\n", token.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List API tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openTokenDB()
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return fmt.Errorf("failed to get database instance: %w", err)
		}
		defer sqlDB.Close()

		store := apitoken.NewMySQLStore(db, logger.Nop{})
		tokens, err := store.List(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list tokens: %w", err)
		}

		for _, t := range tokens {
			state := "active"
			if !t.IsActive {
				state = "revoked"
			} else if t.IsExpired() {
				state = "expired"
			}
			fmt.Printf("%s  %-20s  %-8s  expires %s\n", t.ID, t.Name, state, t.ExpiresAt.Format(time.RFC3339))
		}
		return nil
	},
}

func openTokenDB() (*gorm.DB, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.Connect(database.Config{
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func init() {
	tokenCreateCmd.Flags().StringVarP(&tokenName, "name", "n", "", "token name")
	tokenCreateCmd.Flags().DurationVarP(&tokenExpiry, "expiry", "e", apitoken.DefaultExpiry, "token lifetime")

	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCmd.AddCommand(tokenListCmd)
	tokenCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(tokenCmd)
}
