package cli

import "github.com/spf13/cobra"

func newBrowseCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "browse",
		Short: "Browse masked emails in a full-screen view",
		Long: `Opens a full-screen table of masked emails that refreshes in the
background. Press ? inside the browser for its key bindings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.opts.Browse(r.app)
		},
	}
}
