package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/skygate-io/skygate/pkg/config"
	"github.com/skygate-io/skygate/pkg/history"
	"github.com/skygate-io/skygate/pkg/models"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect spend ceilings and committed spend",
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show ceilings vs today's committed spend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				cfg, err = config.Load(configPath)
				if err != nil {
					return err
				}
			}

			hist, err := history.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = hist.Close() }()

			midnight := time.Now().UTC().Truncate(24 * time.Hour)
			spent, err := hist.TotalSince(context.Background(), midnight)
			if err != nil {
				return err
			}

			limits := cfg.Budget.Limits()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CEILING\tLIMIT\tSPENT TODAY")
			fmt.Fprintf(w, "per-order\t%s\t-\n", ceiling(limits.PerOrder))
			fmt.Fprintf(w, "session\t%s\t-\n", ceiling(limits.Session))
			fmt.Fprintf(w, "daily\t%s\t%s\n", ceiling(limits.Daily), spent)
			return w.Flush()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to skygate config file")
	cmd.AddCommand(statusCmd)
	return cmd
}

func ceiling(c models.Cents) string {
	if c <= 0 {
		return "unlimited"
	}
	return c.String()
}
