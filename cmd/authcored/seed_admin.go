package main

import (
	"context"
	"errors"

	"github.com/havosec/authcore"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

type seedAdminConfig struct {
	email     string
	password  string
	firstName string
	lastName  string
}

// NewSeedAdminCmd creates the seed-admin subcommand.
func NewSeedAdminCmd() *cobra.Command {
	cfg := &seedAdminConfig{}

	cmd := &cobra.Command{
		Use:   "seed-admin",
		Short: "Create the initial admin identity",
		Long: `Create an admin identity with a verified email. Running it again for an
existing email is a no-op.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(newViper(), configFile)
			if err != nil {
				return err
			}
			return runSeedAdmin(cmd, s, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&cfg.password, "password", "", "admin password (required)")
	cmd.Flags().StringVar(&cfg.firstName, "first-name", "Admin", "first name")
	cmd.Flags().StringVar(&cfg.lastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func runSeedAdmin(cmd *cobra.Command, s settings, cfg *seedAdminConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	log, err := newLogger(s)
	if err != nil {
		return err
	}
	engineCfg, err := s.engineConfig()
	if err != nil {
		return err
	}
	db, closeStore, err := openStore(ctx, s, log)
	if err != nil {
		return err
	}
	defer closeStore()

	engine, err := authcore.New().WithConfig(engineCfg).WithStore(db).WithLogger(log).Build()
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()

	return seedAdmin(ctx, engine, cfg, cmd)
}

func seedAdmin(ctx context.Context, engine *authcore.Engine, cfg *seedAdminConfig, cmd *cobra.Command) error {
	profile, err := engine.CreateIdentity(ctx, authcore.SeedIdentity{
		Email:         cfg.email,
		Password:      cfg.password,
		Role:          "admin",
		FirstName:     cfg.firstName,
		LastName:      cfg.lastName,
		EmailVerified: true,
	})
	switch {
	case errors.Is(err, authcore.ErrEmailExists):
		cmd.Printf("Admin %s already exists\n", cfg.email)
		return nil
	case err != nil:
		return oops.Code("SEED_FAILED").With("email", cfg.email).Wrap(err)
	}
	cmd.Printf("Created admin %s (%s)\n", profile.Email, profile.ID)
	return nil
}
