package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/moodlens/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:         "sessions",
	Aliases:     []string{"list"},
	Short:       "List recorded sessions",
	Annotations: map[string]string{"db": dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command) {
	sessions, err := DB.ListSessions(cmd.Context())
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tENTRIES\tSNAPSHOTS")
	fmt.Fprintln(w, "--\t----\t-------\t--------\t-------\t---------")

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = utils.FmtDuration(s.EndedAt.Sub(s.StartedAt).Round(time.Second))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			s.ID[:min(8, len(s.ID))], s.Name, s.StartedAt.Local().Format("2006-01-02 15:04"), duration, s.Entries, s.Snapshots)
	}
	w.Flush()
}
