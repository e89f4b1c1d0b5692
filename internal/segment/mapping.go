package segment

import (
	"fmt"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// MapImages attaches one detected image to every segment. Segment si of
// topic ti gets image (ti*len(topic.Segments)+si) mod len(images), where
// len(topic.Segments) is that topic's own segment count. Each mapped
// segment's media map is replaced by that single image. With no images the
// topics are returned unchanged.
func (s *LLMSegmenter) MapImages(topics []domain.Topic, images []domain.DetectedImage) []domain.Topic {
	return MapImages(topics, images)
}

// MapImages is the image mapping used by LLMSegmenter.
func MapImages(topics []domain.Topic, images []domain.DetectedImage) []domain.Topic {
	if len(images) == 0 {
		return topics
	}

	out := make([]domain.Topic, len(topics))
	for ti, topic := range topics {
		segs := make([]domain.Segment, len(topic.Segments))
		for si, seg := range topic.Segments {
			idx := (ti*len(topic.Segments) + si) % len(images)
			img := images[idx]
			seg.MediaMap = []domain.MediaItem{{
				Type:    "image",
				URL:     img.URL,
				Caption: img.Description,
				Key:     fmt.Sprintf("img-%d", idx),
			}}
			segs[si] = seg
		}
		topic.Segments = segs
		out[ti] = topic
	}
	return out
}
