package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/andresmejia3/moodlens/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB        bool
	resetSnapshots bool
	resetYes       bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset stored state (session history, snapshots)",
	Long:        "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{"db": dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetSnapshots {
			resetDB = true
			resetSnapshots = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No database configured, skipping session history.")
			} else if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all session history?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetSnapshots {
			dir := Cfg.Paths.Snapshots
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all snapshots in %s?", dir)) {
				fmt.Println("🗑️  Clearing Snapshots...")
				removeDir(dir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "history", false, "Clear session history in PostgreSQL")
	resetCmd.Flags().BoolVar(&resetSnapshots, "snapshot-files", false, "Clear saved snapshots")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
