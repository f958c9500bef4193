package attribution

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/cabildolabs/cabildo/pkg/transcriber"
)

func TestAttributor_Run(t *testing.T) {
	t.Parallel()

	a := New()

	res, err := a.Run([]transcriber.Utterance{
		{Speaker: "A", Text: "Para el desahogo del siguiente punto, cede la palabra a Juan Pérez."},
		{Speaker: "B", Text: "Gracias, con su permiso, presidenta."},
		{Speaker: "A", Text: "Hace uso de la voz la regidora Jocelyn Medrano."},
		{Speaker: "C", Text: "Buenos días a todas y todos."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := res.Mapping["B"]; got != "Juan Pérez" {
		t.Errorf("expected B mapped to Juan Pérez, got %q", got)
	}
	if got := res.Mapping["C"]; got != "Jocelyn Medrano" {
		t.Errorf("expected C mapped to Jocelyn Medrano, got %q", got)
	}
	if res.TotalSpeakers != 3 {
		t.Errorf("expected 3 total speakers, got %d", res.TotalSpeakers)
	}
	if !strings.Contains(res.FormattedText, "Juan Pérez: Gracias, con su permiso, presidenta.") {
		t.Errorf("formatted text does not use the resolved name:\n%s", res.FormattedText)
	}
	if !strings.Contains(res.FormattedText, "Speaker A: ") {
		t.Errorf("formatted text must fall back to the speaker ID:\n%s", res.FormattedText)
	}
}

func TestAttributor_RunNoCessions(t *testing.T) {
	t.Parallel()

	a := New()

	res, err := a.Run([]transcriber.Utterance{
		{Speaker: "A", Text: "Se aprueba el acta por unanimidad."},
		{Speaker: "B", Text: "Pasamos al siguiente punto."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Mapping) != 0 {
		t.Errorf("expected empty mapping, got %v", res.Mapping)
	}
	if res.TotalSpeakers != 2 {
		t.Errorf("expected 2 total speakers, got %d", res.TotalSpeakers)
	}
}

func TestAttributor_RunMalformed(t *testing.T) {
	t.Parallel()

	a := New()

	_, err := a.Run([]transcriber.Utterance{{Speaker: "A", Text: ""}})
	if !errors.Is(err, ErrMalformedUtterance) {
		t.Errorf("expected ErrMalformedUtterance, got %v", err)
	}
}

func TestAttributor_WithCustomLexiconAndPatterns(t *testing.T) {
	t.Parallel()

	lex := NewLexicon(
		[]string{"council"},
		[]string{"Stone"},
		[]string{"Avery"},
	)
	patterns := []Pattern{{
		Name:  "yields-the-floor",
		Regex: regexp.MustCompile(`(?i)yields\s+the\s+floor\s+to\s+(?-i:([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,3}))`),
	}}

	a := New(WithLexicon(lex), WithPatterns(patterns))

	res, err := a.Run([]transcriber.Utterance{
		{Speaker: "A", Text: "The chair yields the floor to Avery Stone."},
		{Speaker: "B", Text: "Thank you."},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Mapping["B"]; got != "Avery Stone" {
		t.Errorf("expected B mapped to Avery Stone, got %q", got)
	}
}
