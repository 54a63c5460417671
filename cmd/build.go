package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/moodlens/internal/camera"
	"github.com/andresmejia3/moodlens/internal/clients"
	"github.com/andresmejia3/moodlens/internal/config"
	"github.com/andresmejia3/moodlens/internal/emitter"
	"github.com/andresmejia3/moodlens/internal/recorder"
	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/andresmejia3/moodlens/internal/snapshot"
	"github.com/andresmejia3/moodlens/internal/speech"
	"github.com/andresmejia3/moodlens/internal/worker"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rig holds everything a live session needs and how to release it.
type rig struct {
	ctrl     *session.Controller
	recorder *recorder.Recorder
	closers  []func()
}

func (r *rig) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// sessionFlags registers the flags shared by live, serve and watch.
func sessionFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("camera", "c", 0, "Camera index")
	cmd.Flags().String("device", "", "Camera device (overrides --camera), e.g. /dev/video2")
	cmd.Flags().IntP("interval", "n", 0, "Analyze every Nth frame (default from config: 5)")
	cmd.Flags().String("backend", "", "Inference backend: python or http")
	cmd.Flags().String("url", "", "Emotion service URL for the http backend")
	cmd.Flags().Bool("speech", true, "Announce emotion changes out loud")
	cmd.Flags().String("snapshots", "", "Snapshot output directory")
	cmd.Flags().String("mqtt", "", "MQTT broker host:port to publish emotions to")
	cmd.Flags().String("record", "", "Record the annotated stream to this video file")
	cmd.Annotations = map[string]string{"db": dbOptional}
}

// newAnalyzer starts the configured inference backend.
func newAnalyzer(ctx context.Context, cfg *config.Config) (session.Analyzer, func(), error) {
	switch cfg.Inference.Backend {
	case config.BackendHTTP:
		svc := clients.NewEmotionService(clients.NewHTTP(cfg.Inference.HTTP.Timeout), cfg.Inference.HTTP.URL)
		return svc, func() {}, nil
	default:
		fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
		w, err := worker.NewPythonWorker(ctx, 0, cfg.Inference.Worker)
		if err != nil {
			return nil, nil, err
		}
		return w, w.Close, nil
	}
}

// newRig wires a controller from the effective config. The presenter is attached by
// the caller.
func newRig(cmd *cobra.Command, cfg *config.Config) (*rig, error) {
	ctx := cmd.Context()
	rt := &rig{}

	analyzer, closeAnalyzer, err := newAnalyzer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start inference backend: %w", err)
	}
	rt.closers = append(rt.closers, closeAnalyzer)

	var sinks []session.Sink
	if DB != nil {
		sinks = append(sinks, DB)
	}
	if cfg.MQTT.Broker != "" {
		em := emitter.NewMQTTEmitter(cfg.MQTT)
		if err := em.Connect(ctx); err != nil {
			log.WithError(err).Warn("MQTT unavailable, emotions will not be published")
		} else {
			sinks = append(sinks, em)
			rt.closers = append(rt.closers, em.Disconnect)
		}
	}

	var speaker speech.Speaker = speech.Nop{}
	if cfg.Speech.Enabled {
		speaker = speech.CommandSpeaker{Command: cfg.Speech.Command, Args: cfg.Speech.Args}
	}

	rt.ctrl = session.New(session.Options{
		Camera:    camera.NewFFmpegSource(cfg.Camera),
		Analyzer:  analyzer,
		Interval:  cfg.Inference.ThrottleInterval,
		Override:  cfg.Override,
		Notifier:  speech.NewNotifier(speaker, cfg.Speech.Phrase),
		Snapshots: snapshot.NewWriter(cfg.Paths.Snapshots),
		Sinks:     sinks,
		ThumbSize: cfg.Gallery.ThumbSize,
	})

	if path, _ := cmd.Flags().GetString("record"); path != "" {
		// Not bound to ctx: the encoder must survive Ctrl+C long enough to finalize the file.
		rt.recorder = recorder.New(context.Background(), path, cfg.Camera.FPS)
		rt.closers = append(rt.closers, func() {
			if err := rt.recorder.Close(); err != nil {
				log.WithError(err).Warn("Recording may be incomplete")
			} else if rt.recorder.Frames() > 0 {
				fmt.Fprintf(os.Stderr, "🎞️  Recorded %d frames to %s\n", rt.recorder.Frames(), path)
			}
		})
	}

	log.WithFields(log.Fields{
		"session":  rt.ctrl.ID(),
		"backend":  cfg.Inference.Backend,
		"interval": cfg.Inference.ThrottleInterval,
		"sinks":    len(sinks),
	}).Debug("Session wired")
	return rt, nil
}

// presenter combines the surface presenter with the recorder, when recording.
func (r *rig) presenter(p session.Presenter) session.Presenter {
	if r.recorder == nil {
		return p
	}
	return session.Tee(p, r.recorder)
}
