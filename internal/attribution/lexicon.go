package attribution

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lexicon holds the curated word sets used to decide whether a captured span
// is a plausible personal name. A Lexicon is immutable after construction and
// therefore safe for concurrent use.
//
// Three sets exist:
//
//   - stopwords: lower-cased tokens that disqualify a candidate outright
//     (procedural vocabulary, courtesy titles, role words, connectors).
//   - surnames: exact-cased family names.
//   - firstNames: exact-cased given names.
//
// Surname and first-name membership is case-sensitive and accent-preserving;
// only the stopword check lower-cases its input.
type Lexicon struct {
	stopwords  map[string]struct{}
	surnames   map[string]struct{}
	firstNames map[string]struct{}
}

// NewLexicon builds a [Lexicon] from the given word lists. Stopwords are
// lower-cased on insertion; surnames and first names are stored exactly as
// given.
func NewLexicon(stopwords, surnames, firstNames []string) *Lexicon {
	l := &Lexicon{
		stopwords:  make(map[string]struct{}, len(stopwords)),
		surnames:   make(map[string]struct{}, len(surnames)),
		firstNames: make(map[string]struct{}, len(firstNames)),
	}
	for _, w := range stopwords {
		l.stopwords[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range surnames {
		l.surnames[w] = struct{}{}
	}
	for _, w := range firstNames {
		l.firstNames[w] = struct{}{}
	}
	return l
}

// IsStopword reports whether word, lower-cased, is a stopword.
func (l *Lexicon) IsStopword(word string) bool {
	_, ok := l.stopwords[strings.ToLower(word)]
	return ok
}

// IsSurname reports whether word is a known surname (exact case).
func (l *Lexicon) IsSurname(word string) bool {
	_, ok := l.surnames[word]
	return ok
}

// IsFirstName reports whether word is a known given name (exact case).
func (l *Lexicon) IsFirstName(word string) bool {
	_, ok := l.firstNames[word]
	return ok
}

// KnownNames returns all surnames and first names in the lexicon. The result
// order is not guaranteed. Used for near-miss diagnostics.
func (l *Lexicon) KnownNames() []string {
	names := make([]string, 0, len(l.surnames)+len(l.firstNames))
	for w := range l.surnames {
		names = append(names, w)
	}
	for w := range l.firstNames {
		names = append(names, w)
	}
	return names
}

// LexiconFile is the YAML schema for an externally maintained lexicon.
//
// Example:
//
//	stopwords:
//	  - municipal
//	  - honorable
//	surnames:
//	  - Pérez
//	first_names:
//	  - Juan
type LexiconFile struct {
	Stopwords  []string `yaml:"stopwords"`
	Surnames   []string `yaml:"surnames"`
	FirstNames []string `yaml:"first_names"`
}

// LoadLexiconFile reads and parses a lexicon YAML file from disk.
// Returns a descriptive error if the file cannot be opened or parsed.
func LoadLexiconFile(path string) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("attribution: open lexicon file %q: %w", path, err)
	}
	defer f.Close()

	l, err := LoadLexiconFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("attribution: parse lexicon file %q: %w", path, err)
	}
	return l, nil
}

// LoadLexiconFromReader parses lexicon YAML from an [io.Reader]. Each of the
// three sets must be non-empty — an empty set would silently disable part of
// the validation and is treated as a configuration error.
func LoadLexiconFromReader(r io.Reader) (*Lexicon, error) {
	var lf LexiconFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown top-level keys to catch typos
	if err := dec.Decode(&lf); err != nil {
		return nil, fmt.Errorf("attribution: decode lexicon yaml: %w", err)
	}

	var errs []error
	if len(lf.Stopwords) == 0 {
		errs = append(errs, errors.New("stopwords must not be empty"))
	}
	if len(lf.Surnames) == 0 {
		errs = append(errs, errors.New("surnames must not be empty"))
	}
	if len(lf.FirstNames) == 0 {
		errs = append(errs, errors.New("first_names must not be empty"))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("attribution: invalid lexicon: %w", errors.Join(errs...))
	}

	return NewLexicon(lf.Stopwords, lf.Surnames, lf.FirstNames), nil
}

// DefaultLexicon returns the built-in lexicon curated for Spanish-language
// municipal council sessions.
func DefaultLexicon() *Lexicon {
	return NewLexicon(defaultStopwords, defaultSurnames, defaultFirstNames)
}

// defaultStopwords are words that never form part of a personal name:
// civic and procedural vocabulary, courtesy titles, role words, and common
// discourse connectors.
var defaultStopwords = []string{
	"municipal", "constitucional", "general", "jurídico", "jurídica",
	"hacendario", "hacendaria", "ordinaria", "extraordinaria", "honorable",
	"secretaria", "secretario", "para", "que", "los", "las", "del", "de",
	"la", "el", "comentar", "informar", "brindar", "sugiere", "propone",
	"comenta", "señora", "señor", "ciudadana", "ciudadano", "este", "esta",
	"iniciativa", "reglamento", "sesión", "cabildo", "agua", "potable",
	"organismo", "administración", "comisión", "fraccionamientos", "cargo",
	"carácter", "efecto", "objeto", "manera", "forma", "parte", "caso",
	"orden", "día", "punto", "acta", "anterior", "lectura", "siguiente",
	"presente", "presidenta", "presidente", "moderadora", "moderador",
}

// defaultSurnames are family names commonly heard in council sessions.
var defaultSurnames = []string{
	"García", "González", "Hernández", "López", "Martínez", "Pérez",
	"Ramírez", "Rodríguez", "Sánchez", "Torres", "Flores", "Rivera",
	"Gómez", "Díaz", "Reyes", "Cruz", "Morales", "Jiménez", "Gutiérrez",
	"Chávez", "Medrano", "Miranda", "Tobar", "Mendoza", "Velázquez",
	"Cornejo", "Larios", "Altamirano", "Godínez", "Ayala", "Salazar",
	"Ángeles", "Hurtado", "Monterrubio", "Zelayno", "Fuentes", "Cortés",
	"Quadrini", "Medina", "León", "Celerino", "Fernández",
}

// defaultFirstNames are frequent given names.
var defaultFirstNames = []string{
	"Jocelyn", "María", "Isabel", "Jaime", "Eugenio", "Rosario", "Jesús",
	"Arturo", "Jennifer", "César", "Belinda", "Edgar", "Lisette", "Fidel",
	"Sadi", "Yanis", "Melitón", "Adelir", "Rubí", "Eva", "Marta", "Delia",
	"Osvaldo", "Antonio", "Enrique", "Juan", "Alberto", "José", "Manuel",
	"Yeri", "Axili", "Aksidy", "Paola", "Rogelio", "Fernanda", "Higinio",
}
