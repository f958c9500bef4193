package attribution

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// ErrMalformedUtterance is returned when an utterance record is missing its
// speaker label or text. A missing field is a contract violation by the
// upstream transcription provider; silently defaulting it would corrupt the
// speaker mapping, so the whole attribution pass fails fast instead.
var ErrMalformedUtterance = errors.New("malformed utterance")

// Mapping is the speaker-ID → resolved-name table built from one transcript.
// Keys are a subset of the speaker IDs observed; a missing key means the
// speaker's name is unknown.
type Mapping map[string]string

// Stats are the counters of one mapping pass, used for observability.
type Stats struct {
	// TotalSpeakers is the number of distinct speaker IDs observed.
	TotalSpeakers int

	// Candidates counts extracted candidate spans per pattern name.
	Candidates map[string]int

	// Rejections counts validator rejections per reason.
	Rejections map[RejectReason]int
}

// Mapper builds the speaker mapping from validated candidates. It processes
// utterances strictly in index order and is a pure function of its inputs:
// no state survives between calls.
type Mapper struct {
	matcher   *Matcher
	validator *Validator
}

// NewMapper creates a [Mapper] from a pattern matcher and a validator.
func NewMapper(matcher *Matcher, validator *Validator) *Mapper {
	return &Mapper{matcher: matcher, validator: validator}
}

// Map scans utterances for floor-cession phrasing and assigns each validated
// name candidate to the speaker of the FOLLOWING turn — the person the floor
// was ceded to. It returns the final mapping and the pass counters: distinct
// speaker IDs observed (independent of how many were named), candidates per
// pattern and rejections per reason.
//
// Conflict resolution: when a target speaker already has a name, the new
// candidate overwrites it only when it is strictly longer in characters. The
// rule is applied incrementally, utterance by utterance and pattern by
// pattern, so a later, more generic pattern can still overwrite an earlier
// assignment with a longer capture. The longest observed text is kept as a
// proxy for the most complete name, not pattern specificity.
//
// Candidates extracted from the last utterance are discarded — there is no
// next turn to attribute them to.
func (m *Mapper) Map(utterances []transcriber.Utterance) (Mapping, Stats, error) {
	mapping := Mapping{}
	seen := make(map[string]struct{})
	stats := Stats{
		Candidates: make(map[string]int),
		Rejections: make(map[RejectReason]int),
	}

	for i, u := range utterances {
		if u.Speaker == "" || u.Text == "" {
			return nil, Stats{}, fmt.Errorf("attribution: utterance %d: %w", i, ErrMalformedUtterance)
		}
		seen[u.Speaker] = struct{}{}

		for _, cand := range m.matcher.MatchAll(u.Text) {
			stats.Candidates[cand.Pattern]++
			if verdict := m.validator.Validate(cand.Text); !verdict.Valid {
				stats.Rejections[verdict.Reason]++
				continue
			}
			if i+1 >= len(utterances) {
				// Floor ceded on the final turn; nobody follows.
				continue
			}

			target := utterances[i+1].Speaker
			if existing, ok := mapping[target]; ok && len(existing) >= len(cand.Text) {
				continue
			}
			mapping[target] = cand.Text
			slog.Debug("attribution: speaker named",
				"speaker", target,
				"name", cand.Text,
				"pattern", cand.Pattern,
			)
		}
	}

	stats.TotalSpeakers = len(seen)
	return mapping, stats, nil
}
