// Package segment divides lesson text into ordered topics with an LLM.
package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spherical/lesson-digitizer/internal/domain"
	"github.com/spherical/lesson-digitizer/internal/llm"
	"github.com/spherical/lesson-digitizer/internal/observability"
)

const defaultMaxInputChars = 120000

// Completer is the part of the LLM client the segmenter needs.
type Completer interface {
	Complete(ctx context.Context, p llm.Prompt) (string, error)
}

// LLMSegmenter implements domain.ContentSegmenter.
type LLMSegmenter struct {
	llm           Completer
	maxInputChars int
	log           *observability.Logger
}

func NewLLMSegmenter(c Completer, maxInputChars int, log *observability.Logger) *LLMSegmenter {
	if maxInputChars <= 0 {
		maxInputChars = defaultMaxInputChars
	}
	if log == nil {
		log = observability.Nop()
	}
	return &LLMSegmenter{llm: c, maxInputChars: maxInputChars, log: log.WithOperation("ai_segmentation")}
}

type rawSegment struct {
	OriginalText string `json:"originalText"`
	Text         string `json:"text"`
}

type rawTopic struct {
	Topic    string       `json:"topic"`
	Subtopic *string      `json:"subtopic"`
	Order    int          `json:"order"`
	Segments []rawSegment `json:"segments"`
}

type rawResponse struct {
	Topics []rawTopic `json:"topics"`
}

// Segment asks the model for topics and normalizes what comes back.
func (s *LLMSegmenter) Segment(ctx context.Context, fullText string, pages []domain.OCRResult) ([]domain.Topic, error) {
	text := strings.TrimSpace(fullText)
	if text == "" {
		return nil, domain.SegmentationError("No text to segment", nil)
	}
	if len(text) > s.maxInputChars {
		s.log.Warn().Int("chars", len(text)).Int("limit", s.maxInputChars).Msg("Lesson text truncated for segmentation")
		text = truncate(text, s.maxInputChars)
	}

	reply, err := s.llm.Complete(ctx, llm.Prompt{
		System: systemPrompt,
		User:   fmt.Sprintf(segmentPrompt, len(pages), text),
		JSON:   true,
	})
	if err != nil {
		return nil, domain.SegmentationError("Segmentation request failed", err)
	}

	topics, err := Parse(reply)
	if err != nil {
		return nil, err
	}

	s.log.Debug().Int("topics", len(topics)).Msg("Content segmented")
	return topics, nil
}

// Parse decodes a model reply into normalized topics. Empty topics and
// segments are dropped; a reply with no topics left is an error.
func Parse(reply string) ([]domain.Topic, error) {
	payload := llm.ExtractJSON(reply)

	var resp rawResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		// Some models return the bare array.
		var arr []rawTopic
		if err2 := json.Unmarshal([]byte(payload), &arr); err2 != nil {
			return nil, domain.SegmentationError("Unreadable segmentation response", err)
		}
		resp.Topics = arr
	}

	raw := make([]rawTopic, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		segs := make([]rawSegment, 0, len(t.Segments))
		for _, seg := range t.Segments {
			seg.OriginalText = strings.TrimSpace(seg.OriginalText)
			seg.Text = strings.TrimSpace(seg.Text)
			if seg.Text == "" {
				seg.Text = seg.OriginalText
			}
			if seg.Text != "" {
				segs = append(segs, seg)
			}
		}
		t.Topic = strings.TrimSpace(t.Topic)
		if t.Topic == "" || len(segs) == 0 {
			continue
		}
		t.Segments = segs
		raw = append(raw, t)
	}

	if len(raw) == 0 {
		return nil, domain.SegmentationError("No topics produced", nil)
	}

	return normalize(raw), nil
}

// normalize sorts topics by the model's order when every order is positive
// and distinct, otherwise keeps reply position, then renumbers 1..N.
func normalize(raw []rawTopic) []domain.Topic {
	if ordersUsable(raw) {
		sort.SliceStable(raw, func(i, j int) bool { return raw[i].Order < raw[j].Order })
	}

	topics := make([]domain.Topic, len(raw))
	for i, t := range raw {
		order := i + 1
		topic := domain.Topic{
			TopicID:  fmt.Sprintf("topic-%d", order),
			Topic:    t.Topic,
			Order:    order,
			Segments: make([]domain.Segment, len(t.Segments)),
		}
		if t.Subtopic != nil {
			topic.Subtopic = strings.TrimSpace(*t.Subtopic)
		}
		for n, seg := range t.Segments {
			topic.Segments[n] = domain.Segment{
				ID:           fmt.Sprintf("segment-%d-%d", order, n+1),
				OriginalText: seg.OriginalText,
				Text:         seg.Text,
				MediaMap:     []domain.MediaItem{},
			}
		}
		topics[i] = topic
	}
	return topics
}

// ordersUsable reports whether every topic has a positive, distinct order.
func ordersUsable(raw []rawTopic) bool {
	seen := make(map[int]bool, len(raw))
	for _, t := range raw {
		if t.Order <= 0 || seen[t.Order] {
			return false
		}
		seen[t.Order] = true
	}
	return true
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	if i := strings.LastIndex(cut, "\n\n"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.ToValidUTF8(cut, "")
}
