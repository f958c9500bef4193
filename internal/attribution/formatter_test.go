package attribution

import (
	"testing"

	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

func TestFormatTranscript(t *testing.T) {
	t.Parallel()

	utterances := []transcriber.Utterance{
		{Speaker: "A", Text: "Cede la palabra a Juan Pérez."},
		{Speaker: "B", Text: "Gracias, con su permiso."},
	}
	mapping := Mapping{"B": "Juan Pérez"}

	got := FormatTranscript(utterances, mapping)
	want := "Speaker A: Cede la palabra a Juan Pérez.\n\nJuan Pérez: Gracias, con su permiso."
	if got != want {
		t.Errorf("unexpected rendering:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatTranscript_AllSpeakersUnnamed(t *testing.T) {
	t.Parallel()

	utterances := []transcriber.Utterance{
		{Speaker: "A", Text: "Buenos días."},
		{Speaker: "B", Text: "Buenos días a todos."},
	}

	got := FormatTranscript(utterances, Mapping{})
	want := "Speaker A: Buenos días.\n\nSpeaker B: Buenos días a todos."
	if got != want {
		t.Errorf("unexpected rendering:\ngot:  %q\nwant: %q", got, want)
	}
}

func TestFormatTranscript_Empty(t *testing.T) {
	t.Parallel()

	if got := FormatTranscript(nil, nil); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestFormatTranscript_Deterministic(t *testing.T) {
	t.Parallel()

	utterances := []transcriber.Utterance{
		{Speaker: "A", Text: "Hola."},
		{Speaker: "B", Text: "Hola."},
		{Speaker: "A", Text: "Adiós."},
	}
	mapping := Mapping{"A": "María García"}

	first := FormatTranscript(utterances, mapping)
	for i := 0; i < 10; i++ {
		if got := FormatTranscript(utterances, mapping); got != first {
			t.Fatalf("rendering changed between calls:\nfirst: %q\ngot:   %q", first, got)
		}
	}
}
