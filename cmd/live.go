package cmd

import (
	"fmt"
	"os"

	"github.com/andresmejia3/moodlens/internal/window"
	"github.com/spf13/cobra"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Open a desktop window with the annotated webcam stream",
	Long: `Opens the live window and an analytics window with the emotion chart.
Keys: s start, x stop, p snapshot, q quit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		rt, err := newRig(cmd, Cfg)
		if err != nil {
			return report("Failed to prepare session", err)
		}
		defer rt.Close()

		surface := window.New(rt.ctrl, window.Options{Width: Cfg.Camera.Width, Height: Cfg.Camera.Height})
		defer surface.Close()
		rt.ctrl.SetPresenter(rt.presenter(surface))

		fmt.Fprintln(os.Stderr, "🎥 Press s in the window to start, q to quit.")
		if err := surface.Loop(cmd.Context()); err != nil {
			return report("Window failed", err)
		}

		v := rt.ctrl.View()
		fmt.Fprintf(os.Stderr, "✨ Session %s: %d classifications logged.\n", v.SessionID[:8], v.Entries)
		return nil
	},
}

func init() {
	sessionFlags(liveCmd)
	rootCmd.AddCommand(liveCmd)
}
