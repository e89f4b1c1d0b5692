package tts

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spherical/lesson-digitizer/internal/blob"
	"github.com/spherical/lesson-digitizer/internal/domain"
)

// charsPerSecond is the speaking rate used to estimate narration length.
const charsPerSecond = 15

// Speaker turns text into audio bytes.
type Speaker interface {
	Speak(ctx context.Context, text string) ([]byte, error)
}

// Narrator implements domain.NarrationSynthesizer: it speaks the text and
// stores the audio under the segment reference.
type Narrator struct {
	speaker Speaker
	store   blob.Store
}

func NewNarrator(speaker Speaker, store blob.Store) *Narrator {
	return &Narrator{speaker: speaker, store: store}
}

func (n *Narrator) Synthesize(ctx context.Context, text, segmentRef string) (*domain.Narration, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.SynthesisError(fmt.Sprintf("Segment %s has no text", segmentRef), nil)
	}

	audio, err := n.speaker.Speak(ctx, text)
	if err != nil {
		return nil, domain.SynthesisError(fmt.Sprintf("Failed to generate audio for segment %s", segmentRef), err)
	}

	url, err := n.store.Put(ctx, blob.AudioKey(segmentRef), bytes.NewReader(audio), int64(len(audio)), "audio/mpeg")
	if err != nil {
		return nil, domain.SynthesisError(fmt.Sprintf("Failed to store audio for segment %s", segmentRef), err)
	}

	return &domain.Narration{AudioURL: url, DurationSeconds: EstimateDuration(text)}, nil
}

// EstimateDuration returns ceil(characters / 15) seconds.
func EstimateDuration(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + charsPerSecond - 1) / charsPerSecond
}
