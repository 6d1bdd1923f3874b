package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/brensch/dwcsync/internal/catalog"
)

var (
	discoverRepository string
	discoverKingdom    string
	discoverOutput     string
)

// discoverCmd lists the resources of an IPT as catalog rows.
var discoverCmd = &cobra.Command{
	Use:   "discover <ipt-url>",
	Short: "List the resources published by an IPT as catalog CSV rows",
	Long: `Fetches the IPT home page, collects every resource?r=<tag> link and
prints one catalog row per resource, labelled with --repository and
--kingdom. The output can be appended to the occurrence catalog.`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{skipLedger: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		cfg := getConfig()

		sources, err := catalog.Discover(cmd.Context(), newFetcher(cfg, logger), args[0], discoverRepository, discoverKingdom, logger)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if discoverOutput != "" && discoverOutput != "-" {
			f, err := os.Create(discoverOutput)
			if err != nil {
				return fmt.Errorf("create %s: %w", discoverOutput, err)
			}
			defer f.Close()
			w = f
		}
		return catalog.Write(w, sources)
	},
}

func init() {
	discoverCmd.Flags().StringVarP(&discoverRepository, "repository", "r", "", "Repository label written to the repositorio column")
	discoverCmd.Flags().StringVarP(&discoverKingdom, "kingdom", "k", "", "Kingdom labels written to the kingdom column")
	discoverCmd.Flags().StringVarP(&discoverOutput, "output", "o", "", "Output file (stdout when empty)")
	_ = discoverCmd.MarkFlagRequired("repository")
}
