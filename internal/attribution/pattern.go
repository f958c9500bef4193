package attribution

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// nameGroup is the shared capturing group for personal names: one to four
// capitalized-initial words, optionally joined by the lower-case connectors
// de/del/la. The group is wrapped in (?-i:...) so that capitalization remains
// significant even though the surrounding pattern matches case-insensitively.
// Capitalization is the primary signal separating a name from running speech.
const nameGroup = `(?-i:([A-ZÁÉÍÓÚÑ][a-záéíóúñ]+(?:\s+(?:de\s+|del\s+|la\s+)?[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+){0,3}))`

// roleTitles are the role and courtesy titles that may precede a name after
// a floor-cession phrase.
const roleTitles = `(?:regidor|regidora|síndico|síndica|secretaria|secretario|` +
	`presidente|presidenta|ingeniero|ingeniera|licenciado|licenciada|` +
	`doctor|doctora|coordinadora|director|directora|profesor|profesora)`

// Pattern pairs a compiled floor-cession regex with a label for logging.
// The regex must contain exactly one capturing group, holding the candidate
// name span.
type Pattern struct {
	// Name is a human-readable label for logging and diagnostics.
	Name string

	// Regex is the compiled pattern.
	Regex *regexp.Regexp
}

// Candidate is a name span captured by a single pattern match against a
// single utterance. It is a transient value consumed by the speaker mapper.
type Candidate struct {
	// Text is the captured span, whitespace-trimmed.
	Text string

	// Pattern is the name of the pattern that produced the capture.
	Pattern string
}

// Matcher scans utterance text against an ordered list of floor-cession
// patterns. The list is ordered most linguistically specific first (explicit
// "uso de la voz" phrasing) down to most generic (bare role title followed by
// a capitalized-word sequence).
//
// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher creates a [Matcher] over the given ordered pattern list.
// When patterns is empty, [DefaultPatterns] is used.
func NewMatcher(patterns []Pattern) *Matcher {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Matcher{patterns: patterns}
}

// MatchAll returns every candidate captured from text, in pattern-list order.
// Every pattern in the list is evaluated — matching does NOT stop at the
// first hit — and each pattern contributes at most one capture. A single
// utterance can therefore yield multiple candidates; later, more generic
// patterns deliberately get the chance to capture a longer span than an
// earlier, more specific one.
func (m *Matcher) MatchAll(text string) []Candidate {
	var out []Candidate
	for _, p := range m.patterns {
		sub := p.Regex.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		span := strings.TrimSpace(sub[1])
		if span == "" {
			continue
		}
		out = append(out, Candidate{Text: span, Pattern: p.Name})
	}
	return out
}

// Patterns returns the matcher's pattern list in evaluation order.
func (m *Matcher) Patterns() []Pattern {
	return m.patterns
}

// DefaultPatterns returns the built-in floor-cession pattern list, most
// specific first.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			// "hace uso de la voz [rol] Nombre Apellido"
			Name: "uso-de-la-voz",
			Regex: regexp.MustCompile(`(?i)(?:hace?\s+uso\s+de\s+la\s+voz|uso\s+de\s+la\s+voz)\s+` +
				`(?:de\s+)?(?:el|la)?\s*` + roleTitles + `?\s*` + nameGroup),
		},
		{
			// "solicita el uso de la voz [la|el] [rol] Nombre"
			Name: "solicita-uso-de-voz",
			Regex: regexp.MustCompile(`(?i)solicita?\s+(?:el\s+)?uso\s+de\s+(?:la\s+)?voz\s+` +
				`(?:la|el)?\s*` +
				`(?:regidor|regidora|síndico|síndica|secretaria|presidenta|presidente)?\s*` + nameGroup),
		},
		{
			// "cede la palabra a Nombre"
			Name:  "cede-la-palabra",
			Regex: regexp.MustCompile(`(?i)cede?\s+(?:la\s+)?palabra\s+(?:a|al|a\s+la)?\s*` + nameGroup),
		},
		{
			// "regidor/regidora Nombre Apellido"
			Name: "regidor-nombre",
			Regex: regexp.MustCompile(`(?i)(?:regidor|regidora)\s+` +
				`(?:(?-i:[A-ZÁÉÍÓÚÑ][a-záéíóúñ]+)\s+)?` + nameGroup),
		},
		{
			// "síndico/síndica jurídico/hacendario Nombre Apellido"
			Name: "sindico-nombre",
			Regex: regexp.MustCompile(`(?i)(?:síndico|síndica)\s+` +
				`(?:jurídico|jurídica|hacendario|hacendaria)\s+` + nameGroup),
		},
		{
			// "ingeniero/a | licenciado/a | doctor/a | profesor/a Nombre Apellido"
			Name: "titulo-nombre",
			Regex: regexp.MustCompile(`(?i)(?:ingeniero|ingeniera|licenciado|licenciada|doctor|doctora|` +
				`profesor|profesora)\s+` + nameGroup),
		},
	}
}

// PatternsFile is the YAML schema for an externally maintained pattern list.
// Patterns are evaluated in file order, so the file should list the most
// specific patterns first.
//
// Example:
//
//	patterns:
//	  - name: cede-la-palabra
//	    regex: '(?i)cede\s+la\s+palabra\s+a\s+{name}'
//
// The literal token {name} is replaced with the shared name-capturing group;
// a pattern may instead embed its own single capturing group.
type PatternsFile struct {
	Patterns []PatternDef `yaml:"patterns"`
}

// PatternDef is one entry of a [PatternsFile].
type PatternDef struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// LoadPatternsFile reads and compiles a pattern list from a YAML file.
// An invalid regex is a startup-time configuration error.
func LoadPatternsFile(path string) ([]Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attribution: open patterns file %q: %w", path, err)
	}
	defer f.Close()

	ps, err := LoadPatternsFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("attribution: parse patterns file %q: %w", path, err)
	}
	return ps, nil
}

// LoadPatternsFromReader parses and compiles pattern YAML from r.
func LoadPatternsFromReader(r io.Reader) ([]Pattern, error) {
	var pf PatternsFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("attribution: decode patterns yaml: %w", err)
	}
	if len(pf.Patterns) == 0 {
		return nil, errors.New("attribution: patterns must not be empty")
	}

	out := make([]Pattern, 0, len(pf.Patterns))
	for i, def := range pf.Patterns {
		if def.Name == "" {
			return nil, fmt.Errorf("attribution: patterns[%d]: name is required", i)
		}
		expr := strings.ReplaceAll(def.Regex, "{name}", nameGroup)
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("attribution: patterns[%d] (%s): %w", i, def.Name, err)
		}
		if re.NumSubexp() != 1 {
			return nil, fmt.Errorf("attribution: patterns[%d] (%s): regex must contain exactly one capturing group, has %d", i, def.Name, re.NumSubexp())
		}
		out = append(out, Pattern{Name: def.Name, Regex: re})
	}
	return out, nil
}
