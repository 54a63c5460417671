// Package speech announces emotion changes through a text-to-speech command.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/andresmejia3/moodlens/internal/utils"
)

// Speaker produces audible output for a short phrase.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// CommandSpeaker shells out to a TTS binary such as espeak or say.
type CommandSpeaker struct {
	Command string
	Args    []string
}

// Say runs the command with text as the last argument and waits for it to finish.
func (s CommandSpeaker) Say(ctx context.Context, text string) error {
	args := append(append([]string{}, s.Args...), text)
	cmd := utils.NewSafeCommand(ctx, s.Command, args...)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", s.Command, err, strings.TrimSpace(cmd.Stderr.String()))
	}
	return nil
}

// Nop is a Speaker that stays silent.
type Nop struct{}

func (Nop) Say(context.Context, string) error { return nil }

// Notifier debounces announcements on label identity: a label is spoken only when it
// differs from the last label that was announced.
type Notifier struct {
	speaker Speaker
	phrase  string

	mu   sync.Mutex
	last string
}

// NewNotifier wraps speaker. phrase is a fmt template taking the label, e.g. "You look %s".
func NewNotifier(speaker Speaker, phrase string) *Notifier {
	if speaker == nil {
		speaker = Nop{}
	}
	if phrase == "" {
		phrase = "%s"
	}
	return &Notifier{speaker: speaker, phrase: phrase}
}

// Notify announces label if it changed. It reports whether an announcement was attempted.
// A failed announcement still counts as announced, so a broken engine is not hammered
// on every inference.
func (n *Notifier) Notify(ctx context.Context, label string) (bool, error) {
	n.mu.Lock()
	if label == n.last {
		n.mu.Unlock()
		return false, nil
	}
	n.last = label
	n.mu.Unlock()

	return true, n.speaker.Say(ctx, fmt.Sprintf(n.phrase, label))
}

// Reset forgets the last announced label (a new session starts fresh).
func (n *Notifier) Reset() {
	n.mu.Lock()
	n.last = ""
	n.mu.Unlock()
}
