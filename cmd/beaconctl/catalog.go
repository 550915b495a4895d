package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/beacon-dash/beacon/internal/authz"
)

func newCatalogCommand() *cobra.Command {
	var file string
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate role catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	catalogCmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog file without loading it anywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := authz.LoadFile(args[0])
			if err != nil {
				return err
			}
			catalog := engine.Catalog()
			cmd.Printf("ok: %d roles, %d permissions, top role %s\n",
				len(catalog.Roles()), len(catalog.Permissions()), catalog.TopRole())
			return nil
		},
	})

	showCmd := &cobra.Command{
		Use:   "show [role]",
		Short: "Print the catalog, or one role's effective permissions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := authz.DefaultCatalogSpec()
			if file != "" {
				loaded, err := authz.LoadSpecFile(file)
				if err != nil {
					return err
				}
				spec = loaded
			}
			if len(args) == 0 {
				return authz.EncodeSpec(cmd.OutOrStdout(), spec)
			}
			engine, err := authz.New(spec)
			if err != nil {
				return err
			}
			role := authz.Role(strings.TrimSpace(args[0]))
			if !engine.Catalog().Has(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cmd.Printf("role: %s\nlevel: %d\n", role, engine.RoleLevel(role))
			if ancestors := engine.Catalog().Ancestors(role); len(ancestors) > 0 {
				cmd.Printf("inherits: %s\n", joinRoles(ancestors))
			}
			cmd.Println("permissions:")
			for _, perm := range engine.RolePermissions(role) {
				cmd.Printf("  - %s\n", perm)
			}
			return nil
		},
	}
	showCmd.Flags().StringVar(&file, "file", "", "Catalog file to read instead of the built-in defaults.")
	catalogCmd.AddCommand(showCmd)

	return catalogCmd
}

func joinRoles(roles []authz.Role) string {
	parts := make([]string, len(roles))
	for i, r := range roles {
		parts[i] = string(r)
	}
	return strings.Join(parts, ", ")
}
