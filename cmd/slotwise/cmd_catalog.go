/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/slotwise/internal/db"
	"github.com/friendsincode/slotwise/internal/store"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the operation, component and work order catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Import catalog relations from a YAML file",
	Long: `Import catalog relations from a YAML file.

Example:

  operations:
    - name: op-10
      component: part-9
      quantity: 4
  work_orders:
    - name: wo-7
      components: [part-9]`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
	rootCmd.AddCommand(catalogCmd)
}

type catalogFile struct {
	Operations []struct {
		Name      string `yaml:"name"`
		Component string `yaml:"component"`
		Quantity  int64  `yaml:"quantity"`
	} `yaml:"operations"`
	WorkOrders []struct {
		Name       string   `yaml:"name"`
		Components []string `yaml:"components"`
	} `yaml:"work_orders"`
}

func parseCatalog(data []byte) (*catalogFile, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, op := range f.Operations {
		if op.Name == "" {
			return nil, fmt.Errorf("operation %d: name is required", i)
		}
		if op.Quantity < 0 {
			return nil, fmt.Errorf("operation %s: negative quantity", op.Name)
		}
	}
	for i, wo := range f.WorkOrders {
		if wo.Name == "" {
			return nil, fmt.Errorf("work order %d: name is required", i)
		}
	}
	return &f, nil
}

// importCatalog writes every relation of f in one transaction.
func importCatalog(ctx context.Context, repo *store.Gorm, f *catalogFile) error {
	return repo.Transaction(ctx, func(tx store.Tx) error {
		catalog := tx.Catalog()
		for _, op := range f.Operations {
			if op.Component != "" {
				if err := catalog.LinkOperation(ctx, op.Name, op.Component); err != nil {
					return err
				}
			}
			if op.Quantity > 0 {
				if err := catalog.SetOperationQuantity(ctx, op.Name, op.Quantity); err != nil {
					return err
				}
			}
		}
		for _, wo := range f.WorkOrders {
			for _, component := range wo.Components {
				if err := catalog.LinkWorkOrder(ctx, wo.Name, component); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}
	f, err := parseCatalog(data)
	if err != nil {
		return err
	}

	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	if err := importCatalog(cmd.Context(), store.New(database), f); err != nil {
		return err
	}
	logger.Info().Int("operations", len(f.Operations)).Int("work_orders", len(f.WorkOrders)).Msg("catalog imported")

	if cfg.CatalogCacheEnabled {
		cached, err := buildCatalogCache()
		if err != nil {
			return err
		}
		defer cached.Close()
		if err := cached.Invalidate(cmd.Context()); err != nil {
			logger.Warn().Err(err).Msg("failed to invalidate catalog cache")
		}
	}
	return nil
}
