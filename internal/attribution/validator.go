package attribution

import (
	"context"
	"log/slog"
	"strings"

	"github.com/antzucaro/matchr"
)

// maxNameWords is the upper bound on words in a plausible personal name.
// Longer captures are mis-parsed phrases, not names.
const maxNameWords = 5

// nearMissThreshold is the minimum Jaro-Winkler similarity for a rejected
// word to be reported as a near miss of a known lexicon name.
const nearMissThreshold = 0.90

// RejectReason enumerates why a captured span was rejected by the validator.
type RejectReason string

const (
	// ReasonNone means the span was accepted.
	ReasonNone RejectReason = ""

	// ReasonEmpty means the span contained no words.
	ReasonEmpty RejectReason = "empty"

	// ReasonTooLong means the span exceeded the word limit for a name.
	ReasonTooLong RejectReason = "too_long"

	// ReasonStopword means at least one word is a lexicon stopword.
	ReasonStopword RejectReason = "stopword"

	// ReasonNoLexiconMatch means no word matched a known surname or given
	// name. Absence of evidence is not treated as a name.
	ReasonNoLexiconMatch RejectReason = "no_lexicon_match"
)

// Verdict is the result of validating one captured span. Rejection is an
// expected, non-fatal outcome — it is reported as data, never as an error.
type Verdict struct {
	Valid  bool
	Reason RejectReason
}

// Validator classifies a captured span as a plausible personal name versus a
// generic phrase, using a [Lexicon]. It is read-only after construction and
// safe for concurrent use.
type Validator struct {
	lex *Lexicon
}

// NewValidator creates a [Validator] over lex. When lex is nil the built-in
// [DefaultLexicon] is used.
func NewValidator(lex *Lexicon) *Validator {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &Validator{lex: lex}
}

// Validate checks whether span is a plausible personal name.
//
// A span is rejected when it has zero words, more than five words, or any
// word (lower-cased) is a stopword. A span that survives those checks is
// accepted only when at least one word exactly matches a known surname or
// given name, preserving case and accents.
//
// Rejections are logged at debug level for lexicon tuning; when the reason
// is a missing lexicon hit, the closest known name by Jaro-Winkler similarity
// is included in the log entry. The diagnostic never affects the verdict.
func (v *Validator) Validate(span string) Verdict {
	words := strings.Fields(strings.TrimSpace(span))

	if len(words) == 0 {
		return reject(span, ReasonEmpty)
	}
	if len(words) > maxNameWords {
		return reject(span, ReasonTooLong)
	}

	for _, w := range words {
		if v.lex.IsStopword(w) {
			return reject(span, ReasonStopword, "word", w)
		}
	}

	for _, w := range words {
		if v.lex.IsSurname(w) || v.lex.IsFirstName(w) {
			return Verdict{Valid: true}
		}
	}

	// The near-miss scan is Jaro-Winkler over the whole lexicon; only pay
	// for it when the debug log is actually consuming the hint.
	if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		if near := v.nearestKnownName(words); near != "" {
			return reject(span, ReasonNoLexiconMatch, "near_miss", near)
		}
		return reject(span, ReasonNoLexiconMatch)
	}
	return Verdict{Reason: ReasonNoLexiconMatch}
}

// reject logs the rejection at debug level and returns the verdict. attrs
// carry reason-specific context, such as the offending stopword or the
// closest known name.
func reject(span string, reason RejectReason, attrs ...any) Verdict {
	args := append([]any{"span", span, "reason", reason}, attrs...)
	slog.Debug("attribution: candidate rejected", args...)
	return Verdict{Reason: reason}
}

// nearestKnownName returns the lexicon name most similar to any word of the
// rejected span, when its Jaro-Winkler score reaches [nearMissThreshold].
// Near misses usually indicate a transcription artifact of a real name and
// are the main signal for extending the lexicons.
func (v *Validator) nearestKnownName(words []string) string {
	var best string
	var bestScore float64

	for _, w := range words {
		wl := strings.ToLower(w)
		for _, known := range v.lex.KnownNames() {
			score := matchr.JaroWinkler(wl, strings.ToLower(known), false)
			if score > bestScore {
				best, bestScore = known, score
			}
		}
	}

	if bestScore >= nearMissThreshold {
		return best
	}
	return ""
}
