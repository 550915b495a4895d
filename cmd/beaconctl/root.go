package main

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// BuildVersion is stamped at link time.
var BuildVersion = "dev"

type globalFlags struct {
	DatabaseURL string
	RedisAddr   string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "beaconctl",
		Short:         "Beacon operator CLI",
		Long:          "Operator tooling for Beacon: schema migrations, role catalogs, seeding and background jobs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.DatabaseURL, "database-url", "", "PostgreSQL connection URL. Defaults to PG_DSN.")
	root.PersistentFlags().StringVar(&flags.RedisAddr, "redis-addr", "", "Redis address. Defaults to REDIS_ADDR.")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the beaconctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("%s\n", BuildVersion)
		},
	})
	root.AddCommand(
		newMigrateCommand(flags),
		newCatalogCommand(),
		newSeedCommand(flags),
		newJobsCommand(flags),
	)
	return root
}

func lookupEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func (f *globalFlags) databaseURL() (string, error) {
	url := strings.TrimSpace(f.DatabaseURL)
	if url == "" {
		url = lookupEnv("PG_DSN")
	}
	if url == "" {
		return "", errors.New("missing database URL: set --database-url or PG_DSN")
	}
	return url, nil
}

func (f *globalFlags) redisAddr() string {
	addr := strings.TrimSpace(f.RedisAddr)
	if addr == "" {
		addr = lookupEnv("REDIS_ADDR")
	}
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	return addr
}
