package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/picatz/dohclient/pkg/provider"
	"github.com/spf13/cobra"
)

var CommandProviders = &cobra.Command{
	Use:   "providers",
	Short: "List the supported DoH providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

		fmt.Fprintln(w, "NAME\tURL\tBOOTSTRAP")

		for _, p := range provider.All() {
			cfg := p.Config()
			fmt.Fprintf(w, "%s\t%s\t%v\n", cfg.Name, cfg.URL, cfg.Bootstrap)
		}

		return w.Flush()
	},
}

func init() {
	CommandRoot.AddCommand(CommandProviders)
}
