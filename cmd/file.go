package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/profile-email-enricher/internal/config"
)

func newFileCmd(cfgFile *string) *cobra.Command {
	var (
		input string
		sheet string
	)
	cmd := &cobra.Command{
		Use:   "file [path]",
		Short: "Enrich a local .csv or .xlsx table in place",
		Long: `Reads the table at input.path (or the positional argument), resolves an
email for every pending row and overwrites the same file with Status and Email
columns. Credentials come from MY_GITHUB_API_KEYS or ENRICHER_GITHUB_API_KEYS.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				input = args[0]
			}
			overrides := map[string]any{}
			if input != "" {
				overrides["input.path"] = input
			}
			if sheet != "" {
				overrides["input.sheet"] = sheet
			}
			return runMode(cmd.Context(), cmd.OutOrStdout(), *cfgFile, config.ModeFile, overrides)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "input table path (overrides input.path)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "worksheet name for workbooks (overrides input.sheet)")
	return cmd
}
