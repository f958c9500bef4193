package attribution

import (
	"strings"

	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

// FormatTranscript renders the dialogue as human-readable text: one
// "<label>: <text>" line per utterance, utterances separated by a blank
// line. Speakers without a mapping entry get a synthesized "Speaker <id>"
// label. The function is pure — inputs are never mutated and identical
// inputs yield an identical string.
func FormatTranscript(utterances []transcriber.Utterance, mapping Mapping) string {
	var b strings.Builder
	for i, u := range utterances {
		if i > 0 {
			b.WriteString("\n\n")
		}
		label, ok := mapping[u.Speaker]
		if !ok {
			label = "Speaker " + u.Speaker
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(u.Text)
	}
	return b.String()
}
