package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/profile-email-enricher/internal/config"
)

func newSheetsCmd(cfgFile *string) *cobra.Command {
	var spreadsheetID string
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Enrich rows of a Google Sheet into an output sheet",
		Long: `Reads sheets.input_range, resolves an email for every row and appends
resolved rows to sheets.output_sheet, creating it when missing. Rows already in
the output sheet are skipped. Credentials come from MY_GITHUB_API_KEYS2 or
ENRICHER_GITHUB_API_KEYS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]any{}
			if spreadsheetID != "" {
				overrides["sheets.spreadsheet_id"] = spreadsheetID
			}
			return runMode(cmd.Context(), cmd.OutOrStdout(), *cfgFile, config.ModeSheets, overrides)
		},
	}
	cmd.Flags().StringVar(&spreadsheetID, "spreadsheet-id", "", "spreadsheet to read (overrides sheets.spreadsheet_id)")
	return cmd
}
