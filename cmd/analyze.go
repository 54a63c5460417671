package cmd

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/moodlens/internal/emotion"
	"github.com/andresmejia3/moodlens/internal/overlay"
	"github.com/andresmejia3/moodlens/internal/snapshot"
	"github.com/andresmejia3/moodlens/internal/types"
	"github.com/spf13/cobra"
)

var analyzeOut string

var analyzeCmd = &cobra.Command{
	Use:   "analyze <image_path>",
	Short: "Classify the emotion on a still image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runAnalyze(cmd.Context(), args[0], analyzeOut)
	},
}

func init() {
	analyzeCmd.Flags().String("backend", "", "Inference backend: python or http")
	analyzeCmd.Flags().String("url", "", "Emotion service URL for the http backend")
	analyzeCmd.Flags().StringVarP(&analyzeOut, "output", "o", "", "Write the annotated image to this path")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, imagePath, outPath string) error {
	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		return report("Input file does not exist", err)
	}

	frame, err := loadFrame(imagePath)
	if err != nil {
		return report("Failed to read image file", err)
	}

	analyzer, closeAnalyzer, err := newAnalyzer(ctx, Cfg)
	if err != nil {
		return report("Failed to start AI worker", err)
	}
	defer closeAnalyzer()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing face...")
	res, err := analyzer.Analyze(ctx, frame)
	if err != nil {
		return report("AI processing failed", err)
	}
	res = Cfg.Override.Apply(res)

	fmt.Printf("✅ %s\n", res.Text())
	if res.Overridden() {
		fmt.Printf("   (classifier said %s; changed by the %s→%s rule below %.0f%%)\n", res.Raw, Cfg.Override.From, Cfg.Override.To, Cfg.Override.Below)
	}
	printScores(res)

	if outPath != "" {
		overlay.Draw(frame.Image, &res)
		data, err := snapshot.EncodeJPEG(frame.Image)
		if err != nil {
			return err
		}
		if err := os.WriteFile(outPath, data, 0o644); err != nil {
			return report("Failed to write annotated image", err)
		}
		fmt.Fprintf(os.Stderr, "🖼️  Annotated image written to %s\n", outPath)
	}
	return nil
}

// loadFrame reads a JPEG or PNG into a frame the analyzers accept.
func loadFrame(path string) (types.Frame, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.Frame{}, err
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return types.Frame{}, err
	}
	b := src.Bounds()
	img := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	data, err := snapshot.EncodeJPEG(img)
	if err != nil {
		return types.Frame{}, err
	}
	return types.Frame{Index: 1, Data: data, Image: img, CapturedAt: time.Now()}, nil
}

func printScores(res emotion.Result) {
	if len(res.Scores) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "\nEMOTION\tCONFIDENCE")
	fmt.Fprintln(w, "-------\t----------")
	for _, s := range emotion.Ranked(res.Scores) {
		fmt.Fprintf(w, "%s\t%.1f%%\n", s.Label, s.Confidence)
	}
	w.Flush()
}
