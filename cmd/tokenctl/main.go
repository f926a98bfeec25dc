// Command tokenctl mints and verifies the bearer tokens accepted by the chat server.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-chat-search-rag/internal/domain"
	"github.com/arturoeanton/go-chat-search-rag/internal/middleware"
	"github.com/arturoeanton/go-chat-search-rag/pkg/config"
)

var (
	flagEmail string
	flagName  string
	flagRole  string
	flagHours int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tokenctl",
		Short: "Mint and verify HS256 bearer tokens for the chat server",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load() // JWT_SECRET and JWT_ISSUER usually live in .env
		},
		SilenceUsage: true,
	}
	root.AddCommand(newMintCmd(), newVerifyCmd())
	return root
}

func jwtConfig(hours int) middleware.JWTConfig {
	cfg := config.Load()
	if hours <= 0 {
		hours = cfg.JWTExpiration
	}
	return middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(hours) * time.Hour,
	}
}

func newMintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Print a signed token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if flagEmail == "" {
				return fmt.Errorf("--email is required")
			}
			token, err := middleware.GenerateJWT(domain.UserContext{
				Email: flagEmail,
				Name:  flagName,
				Role:  flagRole,
			}, jwtConfig(flagHours))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagEmail, "email", "", "user email, used as the document owner")
	cmd.Flags().StringVar(&flagName, "name", "", "display name")
	cmd.Flags().StringVar(&flagRole, "role", "user", "role claim")
	cmd.Flags().IntVar(&flagHours, "hours", 0, "lifetime in hours (default JWT_EXPIRATION_HOURS)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <token>",
		Short: "Check a token and print its claims",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, err := middleware.Verify(args[0], jwtConfig(0))
			if err != nil {
				return err
			}
			out, _ := json.MarshalIndent(claims, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			fmt.Fprintf(cmd.OutOrStdout(), "expires: %s\n", time.Unix(claims.ExpiresAt, 0).UTC().Format(time.RFC3339))
			return nil
		},
	}
}
