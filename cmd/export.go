package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:         "export <session_id>",
	Short:       "Export a recorded session's emotion log as CSV",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"db": dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()

		id, err := resolveSession(ctx, args[0])
		if err != nil {
			return report("Failed to find session", err)
		}
		entries, err := DB.SessionLog(ctx, id)
		if err != nil {
			return report("Failed to load session log", err)
		}

		if exportOut == "" || exportOut == "-" {
			return session.WriteCSV(os.Stdout, entries)
		}

		bar := progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("💾 Exporting"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(true),
		)
		if err := writeCSVFile(exportOut, func(w io.Writer) error {
			return session.WriteCSV(io.MultiWriter(w, bar), entries)
		}); err != nil {
			return report("Failed to write CSV", err)
		}
		bar.Finish()
		fmt.Fprintf(os.Stderr, "\n✅ %d entries written to %s\n", len(entries), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file (default: stdout)")
	rootCmd.AddCommand(exportCmd)
}
