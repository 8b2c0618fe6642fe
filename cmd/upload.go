package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newUploadCmd creates the 'upload' subcommand, which ships existing feed
// files without crawling.
func newUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload [paths...]",
		Short: "Upload feed files to blob storage",
		Long: `Uploads the given feed files, or the configured feed path when none
are given, to the configured blob storage under their own names.`,
		RunE: withApp(func(cmd *cobra.Command, args []string, appInstance App) error {
			paths := args
			if len(paths) == 0 {
				paths = []string{appInstance.Config().Feed.Path}
			}
			results, err := appInstance.Upload(cmd.Context(), paths)
			if err != nil {
				return fmt.Errorf("upload feeds: %w", err)
			}
			for _, r := range results {
				fmt.Fprintln(cmd.OutOrStdout(), r.URI)
			}
			appInstance.Logger().Info("Upload command finished.", zap.Int("files", len(results)))
			return nil
		}),
	}
}
