package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance commands",
	}
	cmd.AddCommand(dbUpgradeCmd())
	return cmd
}

func dbUpgradeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upgrade",
		Short: "Apply schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBUpgrade(cmd.Context(), cmd)
		},
	}
}

func runDBUpgrade(ctx context.Context, cmd *cobra.Command) error {
	cfg, err := loadAppConfig()
	if err != nil {
		return err
	}
	_, closeDB, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()
	fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
	return nil
}
