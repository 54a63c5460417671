package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/andresmejia3/moodlens/internal/store"
	"github.com/andresmejia3/moodlens/internal/utils"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:         "label <session_id> <name>",
	Short:       "Give a recorded session a name",
	Args:        cobra.ExactArgs(2),
	Annotations: map[string]string{"db": dbRequired},
	Run: func(cmd *cobra.Command, args []string) {
		runLabel(cmd.Context(), args[0], args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, ref, name string) {
	id, err := resolveSession(ctx, ref)
	if err != nil {
		utils.Die("Failed to find session", err, nil)
	}

	if err := DB.RenameSession(ctx, id, name); err != nil {
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", id[:min(8, len(id))], name)
}

// resolveSession expands a unique id prefix (as printed by `sessions`) into a full id.
func resolveSession(ctx context.Context, ref string) (string, error) {
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		return "", err
	}
	var match string
	for _, s := range sessions {
		if s.ID == ref {
			return s.ID, nil
		}
		if strings.HasPrefix(s.ID, ref) {
			if match != "" {
				return "", fmt.Errorf("session prefix %q is ambiguous", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("%q: %w", ref, store.ErrNotFound)
	}
	return match, nil
}
