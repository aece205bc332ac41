package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/skygate-io/skygate/pkg/config"
	"github.com/skygate-io/skygate/pkg/history"
)

func newOrdersCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List placed orders, newest first",
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

			records, err := hist.List(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No orders recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PLACED (UTC)\tARCHIVE\tCOST\tORDER REF")
			for _, rec := range records {
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\n",
					rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					rec.ArchiveID, rec.Cost, rec.Currency, rec.OrderRef)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to skygate config file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum orders to show")
	return cmd
}
