package alerting

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// normalize lower-cases s and collapses runs of whitespace to one space.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Fingerprint identifies alert content: xxhash64 over the normalized title
// and message, hex encoded.
func Fingerprint(title, message string) string {
	d := xxhash.New()
	d.WriteString(normalize(title))
	d.WriteString("\x00")
	d.WriteString(normalize(message))
	return strconv.FormatUint(d.Sum64(), 16)
}

// tokenSet splits normalized content into a set of word tokens.
func tokenSet(title, message string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(title+" "+message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Similarity is the Jaccard index of the token sets of two contents.
func Similarity(titleA, messageA, titleB, messageB string) float64 {
	a := tokenSet(titleA, messageA)
	b := tokenSet(titleB, messageB)
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// mergeable reports whether a trigger with the given content may be merged
// into candidate under rule's aggregation method. Window checks are done by
// the caller.
func mergeable(rule *models.AlertRule, candidate *models.Alert, title, message, fingerprint string) bool {
	switch rule.Aggregation {
	case models.AggregationTimeWindow:
		return true
	case models.AggregationDuplicateContent, models.AggregationCount:
		return candidate.Fingerprint == fingerprint
	case models.AggregationSimilarEvents:
		if candidate.Fingerprint == fingerprint {
			return true
		}
		return Similarity(candidate.Title, candidate.Message, title, message) >= rule.EffectiveSimilarity()
	default:
		return false
	}
}
