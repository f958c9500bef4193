// Package attribution resolves anonymous diarization speaker labels into
// real personal names.
//
// Diarization tells us WHEN the speaker changes, not WHO speaks. In formal
// council sessions the chair explicitly hands the floor over ("cede la
// palabra a Juan Pérez", "hace uso de la voz la regidora García"), so the
// name of the NEXT speaker is frequently spoken aloud in the CURRENT turn.
// This package exploits exactly that:
//
//  1. An ordered list of floor-cession patterns extracts candidate name
//     spans from each utterance ([Matcher]).
//  2. Candidates are validated against curated lexicons — stopwords that
//     disqualify, known surnames and given names that confirm ([Validator]).
//  3. Validated names are propagated to the speaker of the following turn,
//     keeping the longest candidate per speaker ([Mapper]).
//  4. The final transcript is rendered with resolved names
//     ([FormatTranscript]).
//
// The whole pass is synchronous, deterministic, and a pure function of
// (utterances, lexicons, patterns). All types are read-only after
// construction and safe for concurrent use.
package attribution

import (
	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// Result is the output of one attribution pass over one transcript.
type Result struct {
	// Mapping resolves diarization speaker IDs to personal names. Speakers
	// whose name was never detected are absent.
	Mapping Mapping

	// FormattedText is the rendered dialogue, one labelled line per
	// utterance separated by blank lines.
	FormattedText string

	// TotalSpeakers is the count of distinct speaker IDs observed across
	// the input, independent of naming success.
	TotalSpeakers int

	// Stats carries the pass counters (candidates per pattern, rejections
	// per reason) for metrics.
	Stats Stats
}

// Option is a functional option for configuring an [Attributor].
type Option func(*Attributor)

// WithLexicon replaces the built-in lexicon. When lex is nil the default is
// kept.
func WithLexicon(lex *Lexicon) Option {
	return func(a *Attributor) {
		if lex != nil {
			a.lexicon = lex
		}
	}
}

// WithPatterns replaces the built-in floor-cession pattern list. When
// patterns is empty the default list is kept. Patterns are evaluated in the
// given order, so the slice should be sorted most specific first.
func WithPatterns(patterns []Pattern) Option {
	return func(a *Attributor) {
		if len(patterns) > 0 {
			a.patterns = patterns
		}
	}
}

// Attributor runs the full name-attribution pass. Construct once at startup
// and reuse; it holds no per-transcript state.
type Attributor struct {
	lexicon  *Lexicon
	patterns []Pattern

	mapper *Mapper
}

// New constructs an [Attributor] with the supplied options. Without options
// it uses [DefaultLexicon] and [DefaultPatterns].
func New(opts ...Option) *Attributor {
	a := &Attributor{
		lexicon:  DefaultLexicon(),
		patterns: DefaultPatterns(),
	}
	for _, o := range opts {
		o(a)
	}
	a.mapper = NewMapper(NewMatcher(a.patterns), NewValidator(a.lexicon))
	return a
}

// Run executes one attribution pass over utterances.
//
// It returns [ErrMalformedUtterance] (wrapped with the offending index) when
// an utterance is missing its speaker or text; everything else — including a
// transcript with no cession phrasing at all — succeeds, possibly with an
// empty mapping.
func (a *Attributor) Run(utterances []transcriber.Utterance) (*Result, error) {
	mapping, stats, err := a.mapper.Map(utterances)
	if err != nil {
		return nil, err
	}
	return &Result{
		Mapping:       mapping,
		FormattedText: FormatTranscript(utterances, mapping),
		TotalSpeakers: stats.TotalSpeakers,
		Stats:         stats,
	}, nil
}
