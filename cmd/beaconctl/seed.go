package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beacon-dash/beacon/internal/audit"
	"github.com/beacon-dash/beacon/internal/authz"
	"github.com/beacon-dash/beacon/internal/platform/db"
	"github.com/beacon-dash/beacon/internal/rbac"
	"github.com/beacon-dash/beacon/internal/users"
)

type seedAdminOptions struct {
	Email    string
	Name     string
	Password string
	Role     string
}

func (o seedAdminOptions) validate() error {
	if strings.TrimSpace(o.Email) == "" {
		return errors.New("--email is required")
	}
	if len(o.Password) < 8 {
		return errors.New("--password must be at least 8 characters")
	}
	return nil
}

func newSeedCommand(flags *globalFlags) *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the role catalog and bootstrap accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	seedCmd.AddCommand(&cobra.Command{
		Use:   "catalog",
		Short: "Store the built-in role catalog when the database holds none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := db.New(ctx, url, db.Options{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := rbac.NewService(rbac.NewRepository(pool), authz.NewHolder(nil), cliLogger(), nil)
			seeded, err := svc.Seed(ctx, authz.DefaultCatalogSpec())
			if err != nil {
				return err
			}
			if !seeded {
				cmd.Println("Catalog already present; nothing to do.")
				return nil
			}
			cmd.Println("Seeded the built-in role catalog.")
			return nil
		},
	})

	opts := seedAdminOptions{}
	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Create or reset a bootstrap account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Password == "" {
				opts.Password = lookupEnv("BEACON_ADMIN_PASSWORD")
			}
			if err := opts.validate(); err != nil {
				return err
			}
			url, err := flags.databaseURL()
			if err != nil {
				return err
			}
			user, err := seedAdmin(cmd.Context(), url, opts)
			if err != nil {
				return err
			}
			cmd.Printf("Account %s (id %d) ready with role %s.\n", user.Email, user.ID, user.Role)
			return nil
		},
	}
	adminCmd.Flags().StringVar(&opts.Email, "email", "", "Account email.")
	adminCmd.Flags().StringVar(&opts.Name, "name", "", "Display name. Defaults to the email.")
	adminCmd.Flags().StringVar(&opts.Password, "password", "", "Account password. Defaults to BEACON_ADMIN_PASSWORD.")
	adminCmd.Flags().StringVar(&opts.Role, "role", "", "Role to assign. Defaults to the catalog's top role.")
	seedCmd.AddCommand(adminCmd)

	return seedCmd
}

func seedAdmin(ctx context.Context, url string, opts seedAdminOptions) (users.User, error) {
	pool, err := db.New(ctx, url, db.Options{MaxConns: 2})
	if err != nil {
		return users.User{}, err
	}
	defer pool.Close()

	logger := cliLogger()
	holder := authz.NewHolder(nil)
	catalog := rbac.NewService(rbac.NewRepository(pool), holder, logger, nil)
	if _, err := catalog.Seed(ctx, authz.DefaultCatalogSpec()); err != nil {
		return users.User{}, fmt.Errorf("seed catalog: %w", err)
	}
	if err := catalog.Reload(ctx); err != nil {
		return users.User{}, fmt.Errorf("load catalog: %w", err)
	}

	role := authz.Role(strings.TrimSpace(opts.Role))
	if role == "" {
		role = holder.Engine().Catalog().TopRole()
	}
	svc := users.NewService(users.NewRepository(pool), holder, audit.NewRecorder(pool), nil, logger)
	return svc.Bootstrap(ctx, opts.Email, opts.Name, opts.Password, role)
}

func cliLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
