package cmd

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/andresmejia3/moodlens/internal/utils"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run a headless session and print emotions to the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		ctx := cmd.Context()
		if d, _ := cmd.Flags().GetDuration("duration"); d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}

		rt, err := newRig(cmd, Cfg)
		if err != nil {
			return report("Failed to prepare session", err)
		}
		defer rt.Close()

		bar := progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("👀 Watching"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSpinnerType(14),
		)
		term := newTerminal(os.Stdout, bar)
		rt.ctrl.SetPresenter(rt.presenter(term))

		started := time.Now()
		runErr := rt.ctrl.Run(ctx)
		bar.Finish()
		fmt.Fprintln(os.Stderr)

		v := rt.ctrl.View()
		fmt.Fprintf(os.Stderr, "✨ %s watched, %d frames, %d classifications.\n", utils.FmtDuration(time.Since(started)), v.Frames, v.Entries)

		if path, _ := cmd.Flags().GetString("csv"); path != "" {
			if err := writeCSVFile(path, rt.ctrl.ExportCSV); err != nil {
				return report("Failed to write CSV", err)
			}
			fmt.Fprintf(os.Stderr, "💾 Log written to %s\n", path)
		}

		if runErr != nil {
			return report("Session failed", runErr)
		}
		return nil
	},
}

func init() {
	sessionFlags(watchCmd)
	watchCmd.Flags().Duration("duration", 0, "Stop after this long (default: until Ctrl+C)")
	watchCmd.Flags().String("csv", "", "Write the emotion log to this CSV file on exit")
	rootCmd.AddCommand(watchCmd)
}

// terminal prints one line per new classification and ticks a frame spinner.
type terminal struct {
	out     io.Writer
	bar     *progressbar.ProgressBar
	entries int
}

func newTerminal(out io.Writer, bar *progressbar.ProgressBar) *terminal {
	return &terminal{out: out, bar: bar}
}

func (t *terminal) Present(_ *image.RGBA, v session.View) error {
	if t.bar != nil {
		t.bar.Add(1)
	}
	if v.Entries == t.entries || v.Current == nil {
		return nil
	}
	t.entries = v.Entries
	line := v.Current.Text()
	if v.Current.Overridden() {
		line += fmt.Sprintf(" [was %s]", v.Current.Raw)
	}
	if t.bar != nil {
		t.bar.Describe("👀 " + line)
	}
	fmt.Fprintf(t.out, "%s  %s\n", time.Now().Format("15:04:05"), line)
	return nil
}

func writeCSVFile(path string, export func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
