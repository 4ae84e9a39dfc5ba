package engine

import (
	"strings"

	"github.com/natefox/mnemo/pkg/types"
)

// Blend weights for the relevance factors.
const (
	typeWeightFactor    = 0.4
	lengthWeightFactor  = 0.3
	keywordWeightFactor = 0.3
)

// wordPunctuation is trimmed from word edges before keyword matching.
const wordPunctuation = ".,;:!?()[]{}\"'`"

// contentTypeWeights ranks content types by how often each kind of entry
// turns out to be worth retrieving later. Decisions and learnings age well;
// raw output rarely does.
var contentTypeWeights = map[types.ContentType]float64{
	types.ContentTypeDecision:      0.9,
	types.ContentTypeLearning:      0.85,
	types.ContentTypeError:         0.8,
	types.ContentTypeCode:          0.7,
	types.ContentTypeDocumentation: 0.65,
	types.ContentTypeContext:       0.6,
	types.ContentTypeOutput:        0.5,
}

// RelevanceScorer computes the write-time relevance heuristic for new
// entries. The score is a weighted blend of a content-type prior, a length
// band, and keyword density, clamped to [0.0, 1.0]. It uses only the entry
// itself, so scoring never blocks ingestion on I/O.
type RelevanceScorer struct{}

// NewRelevanceScorer creates a new relevance scorer.
func NewRelevanceScorer() *RelevanceScorer {
	return &RelevanceScorer{}
}

// Score computes the relevance score for an entry about to be stored.
func (s *RelevanceScorer) Score(content string, contentType types.ContentType, keywords []string) float64 {
	score := s.typeScore(contentType)*typeWeightFactor +
		s.lengthScore(content)*lengthWeightFactor +
		s.keywordScore(content, keywords)*keywordWeightFactor

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// typeScore returns the prior weight for the content type.
func (s *RelevanceScorer) typeScore(contentType types.ContentType) float64 {
	if w, ok := contentTypeWeights[contentType]; ok {
		return w
	}
	return 0.5
}

// lengthScore bands content length. Very short entries carry little signal
// and very long ones bury it; the sweet spot is a few paragraphs.
func (s *RelevanceScorer) lengthScore(content string) float64 {
	switch n := len(content); {
	case n < 80:
		return 0.3
	case n < 400:
		return 0.7
	case n < 2000:
		return 1.0
	case n < 8000:
		return 0.8
	default:
		return 0.6
	}
}

// keywordScore measures how densely the supplied keywords occur in the
// content. Density is hits per word, scaled so that one hit every ten words
// already scores 1.0.
func (s *RelevanceScorer) keywordScore(content string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	keywordSet := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywordSet[kw] = struct{}{}
		}
	}
	if len(keywordSet) == 0 {
		return 0
	}

	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return 0
	}

	hits := 0
	for _, word := range words {
		word = strings.Trim(word, wordPunctuation)
		if _, ok := keywordSet[word]; ok {
			hits++
		}
	}

	density := float64(hits) / float64(len(words))
	return min(1.0, density*10)
}
