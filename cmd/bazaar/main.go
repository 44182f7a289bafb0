package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/bazaar/internal/auth"
	"github.com/gosuda/bazaar/internal/config"
	"github.com/gosuda/bazaar/internal/domain"
	"github.com/gosuda/bazaar/internal/store/postgres"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatal().Err(err).Msg("bazaar failed")
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bazaar",
		Short:         "Multi-tenant catalog storage service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			setupLogging(cfg.Log)
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}

	root.AddCommand(migrateCmd(), tokenCmd())
	return root
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply control-plane migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			return postgres.Migrate(cfg.Database.DSN())
		},
	}
}

// tokenCmd signs an access token with the shared secret, for local
// development where no auth service is running.
func tokenCmd() *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development access token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())

			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("token: --user: %w", err)
			}
			switch role {
			case domain.RoleAdmin, domain.RoleMerchant, domain.RoleCustomer:
			default:
				return fmt.Errorf("token: unknown role %q", role)
			}

			tok, err := auth.IssueAccessToken(cfg.JWT.Secret, id, role, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "user id (uuid) carried in the uid claim")
	cmd.Flags().StringVar(&role, "role", domain.RoleAdmin, "admin, merchant or customer")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
