package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonathan/shorts-agent/internal/extraction"
)

var strategiesJSON bool

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Print the effective extraction strategy catalog",
	Long:  `Print the strategy catalog in execution order after applying catalog_path and disabled_strategies.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		if strategiesJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(catalog)
		}
		return printCatalog(cmd.OutOrStdout(), catalog)
	},
}

func init() {
	strategiesCmd.Flags().BoolVar(&strategiesJSON, "json", false, "Print the catalog as JSON")
	rootCmd.AddCommand(strategiesCmd)
}

func printCatalog(w io.Writer, catalog *extraction.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tTOOL\tCLIENT\tAUTH\tKINDS\tTIMEOUT\tRETRIES\tENABLED\n")
	for _, s := range catalog.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\t%d\t%t\n",
			s.ID, s.Tool, s.ClientIdentity, s.UsesAuthentication, s.SubtitleKinds, s.Timeout(), s.MaxRetries, s.Enabled)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\ncatalog version %d, %d of %d enabled\n",
		catalog.Version, len(catalog.Strategies()), len(catalog.Entries))
	return err
}
