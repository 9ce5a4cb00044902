package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-pool/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the queue state schema in PostgreSQL",
	Long: `Connect to PostgreSQL and create the queue_state table.

Reads the DSN from --postgres-dsn flag, POSTGRES_DSN env var, or config file.
Only needed when store_backend is "postgres"; serve also migrates on startup.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().String("postgres-dsn", "", "PostgreSQL connection string")
	bindFlag("postgres_dsn", migrateCmd.Flags(), "postgres-dsn")
	_ = viper.BindEnv("postgres_dsn", "POSTGRES_DSN")
}

func runMigrate(_ *cobra.Command, _ []string) error {
	dsn := viper.GetString("postgres_dsn")
	if dsn == "" {
		return fmt.Errorf("postgres_dsn is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := store.NewPostgres(pool).Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("migrations complete")
	return nil
}
