package main

import (
	"fmt"
	"log/slog"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/internal/stores"
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var skipUsers, skipPermissions bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the users and permissions schemas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, "zerotrust-migrate")
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if !skipUsers {
				if a.settings.UsersDSN == "" {
					return fmt.Errorf("DATABASE_URL is required")
				}
				db, err := a.usersDB()
				if err != nil {
					return err
				}
				if err := stores.Migrate(db); err != nil {
					return fmt.Errorf("migrate users: %w", err)
				}
				a.logger.Info("users schema up to date", slog.String("driver", a.settings.UsersDriver))
			}

			if !skipPermissions {
				if a.settings.PermissionsDSN == "" {
					a.logger.Warn("no permissions database configured, skipping")
					return nil
				}
				db, err := authz.OpenPostgres(ctx, a.settings.PermissionsDSN)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := authz.NewSQLStore(db).Migrate(ctx); err != nil {
					return fmt.Errorf("migrate permissions: %w", err)
				}
				a.logger.Info("permissions schema up to date")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipUsers, "skip-users", false, "leave the users schema untouched")
	cmd.Flags().BoolVar(&skipPermissions, "skip-permissions", false, "leave the permissions schema untouched")
	return cmd
}
