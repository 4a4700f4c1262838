package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newInitDBCommand(wrap appWrapper) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "init-db",
		Short: "Create the tables in a local or dev database",
		Args:  cobra.NoArgs,
		RunE: wrap(func(ctx context.Context, a *app, _ []string) error {
			return runInitDB(ctx, a, seed)
		}),
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "insert demo tenants when the database is empty")
	return cmd
}

func runInitDB(ctx context.Context, a *app, seed bool) error {
	if err := a.store.EnsureSchema(ctx); err != nil {
		return err
	}
	a.printf("Schema ready (%s)\n", a.store.Driver())
	if !seed {
		return nil
	}
	n, err := a.store.Seed(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		a.println("Tenant data already present; skipping seed.")
		return nil
	}
	a.printf("Seeded %d demo tenants\n", n)
	return nil
}
