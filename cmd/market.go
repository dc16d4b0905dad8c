package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/cma-engine/internal/market"
)

var marketCmd = &cobra.Command{
	Use:   "market",
	Short: "Manage the market listings database",
}

var marketImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk-load listings and market statistics from CSV exports",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		listingsPath, _ := cmd.Flags().GetString("listings")
		statsPath, _ := cmd.Flags().GetString("stats")
		if listingsPath == "" && statsPath == "" {
			return eris.New("market import: --listings or --stats is required")
		}
		if cfg.Market.DatabaseURL == "" {
			return eris.New("market import: market.database_url is required (CMA_MARKET_DATABASE_URL)")
		}

		repo, pool, err := initMarket(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := repo.Migrate(ctx); err != nil {
			return err
		}

		if listingsPath != "" {
			if err := importListings(ctx, repo, listingsPath); err != nil {
				return err
			}
		}
		if statsPath != "" {
			if err := importStats(ctx, repo, statsPath); err != nil {
				return err
			}
		}
		return nil
	},
}

func importListings(ctx context.Context, repo *market.Repository, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "market import: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	listings, err := market.ReadListings(f)
	if err != nil {
		return err
	}
	n, err := repo.ImportListings(ctx, listings)
	if err != nil {
		return err
	}
	zap.L().Info("listings imported", zap.String("file", path), zap.Int("rows", len(listings)), zap.Int64("upserted", n))
	return nil
}

func importStats(ctx context.Context, repo *market.Repository, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "market import: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	stats, err := market.ReadStats(f)
	if err != nil {
		return err
	}
	n, err := repo.ImportStats(ctx, stats)
	if err != nil {
		return err
	}
	zap.L().Info("market stats imported", zap.String("file", path), zap.Int("rows", len(stats)), zap.Int64("upserted", n))
	return nil
}

func init() {
	marketImportCmd.Flags().String("listings", "", "listings CSV file")
	marketImportCmd.Flags().String("stats", "", "market statistics CSV file")
	marketCmd.AddCommand(marketImportCmd)
	rootCmd.AddCommand(marketCmd)
}
