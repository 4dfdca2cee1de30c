package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/Meraviglioso8/ZeroTrust-DeepLearning/authz"
	"github.com/spf13/cobra"
)

// permissionAdmin is satisfied by both the local service and the gRPC client.
type permissionAdmin interface {
	GetPermissions(ctx context.Context, userID string) ([]string, error)
	SetPermissions(ctx context.Context, userID string, permissions []string) ([]string, error)
}

func newPermsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perms",
		Short: "Inspect or replace a user's permissions",
	}
	cmd.AddCommand(newPermsGetCommand(opts), newPermsSetCommand(opts))
	return cmd
}

func newPermsGetCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get USER_ID",
		Short: "Print the permissions held by a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPermissionAdmin(cmd.Context(), opts, func(admin permissionAdmin) error {
				perms, err := admin.GetPermissions(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printPermissions(cmd.OutOrStdout(), args[0], perms)
			})
		},
	}
}

func newPermsSetCommand(opts *rootOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set USER_ID [PERMISSION...]",
		Short: "Replace a user's permissions with a role grant or an explicit list",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			perms, err := requestedPermissions(role, args[1:])
			if err != nil {
				return err
			}
			return withPermissionAdmin(cmd.Context(), opts, func(admin permissionAdmin) error {
				stored, err := admin.SetPermissions(cmd.Context(), args[0], perms)
				if err != nil {
					return err
				}
				return printPermissions(cmd.OutOrStdout(), args[0], stored)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "grant the permissions of a catalog role")
	return cmd
}

func requestedPermissions(role string, explicit []string) ([]string, error) {
	if role != "" && len(explicit) > 0 {
		return nil, fmt.Errorf("--role and an explicit permission list are mutually exclusive")
	}
	if role == "" {
		if len(explicit) == 0 {
			return nil, fmt.Errorf("no permissions given")
		}
		return explicit, nil
	}
	perms, ok := authz.RolePermissions(role)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	return perms, nil
}

// withPermissionAdmin talks to the remote permission service when
// AUTHZ_GRPC_TARGET is set and to the configured store otherwise.
func withPermissionAdmin(ctx context.Context, opts *rootOptions, fn func(permissionAdmin) error) error {
	a, err := newApp(opts, "zerotrust-perms")
	if err != nil {
		return err
	}
	defer a.Close()

	if a.settings.AuthzTarget == "" {
		svc, err := a.permissionService(ctx)
		if err != nil {
			return err
		}
		return fn(svc)
	}

	if a.settings.ClientID == "" || a.settings.TokenURL == "" {
		return fmt.Errorf("ZT_CLIENT_ID and AUTHZ_TOKEN_URL are required for a remote permission service")
	}
	cc := a.clientCredentials(authz.ScopeRead, authz.ScopeWrite)
	client, err := authz.Dial(a.settings.AuthzTarget, cc.TokenSource(ctx))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func printPermissions(w io.Writer, userID string, perms []string) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		UserID      string   `json:"user_id"`
		Permissions []string `json:"permissions"`
	}{userID, perms})
}
