package sections

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	MinChapter = 1
	MaxChapter = 5
)

// Provider returns the ordered list of required sections for a chapter.
type Provider interface {
	Sections(chapter int) []string
}

var defaultTable = map[int][]string{
	1: {
		"Background of the Study",
		"Statement of the Problem",
		"Objectives of the Study",
		"Significance of the Study",
		"Scope and Limitations",
		"Definition of Terms",
	},
	2: {
		"Related Literature",
		"Related Studies",
		"Synthesis",
		"Theoretical Framework",
		"Conceptual Framework",
	},
	3: {
		"Research Design",
		"Respondents of the Study",
		"Research Instrument",
		"Data Gathering Procedure",
		"Statistical Treatment of Data",
	},
	4: {
		"Presentation of Data",
		"Analysis of Data",
		"Interpretation of Results",
	},
	5: {
		"Summary of Findings",
		"Conclusions",
		"Recommendations",
	},
}

// Catalog serves configured section lists and falls back to the built-in
// table for any chapter the configuration does not cover.
type Catalog struct {
	configured map[int][]string
}

type fileFormat struct {
	Chapters map[int][]string `yaml:"chapters"`
}

// Default returns a catalog backed only by the built-in table.
func Default() *Catalog {
	return &Catalog{configured: map[int][]string{}}
}

// Load reads a YAML catalog. A missing file is not an error: the built-in
// table is used instead.
//
//	chapters:
//	  1: [Background of the Study, Statement of the Problem]
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read sections file: %w", err)
	}
	return Parse(blob)
}

func Parse(blob []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(blob, &f); err != nil {
		return nil, fmt.Errorf("parse sections file: %w", err)
	}
	c := Default()
	for ch, list := range f.Chapters {
		clean := cleanList(list)
		if len(clean) == 0 {
			continue
		}
		c.configured[ch] = clean
	}
	return c, nil
}

// Sections returns a fresh copy so callers may mutate the result.
func (c *Catalog) Sections(chapter int) []string {
	if c != nil {
		if list, ok := c.configured[chapter]; ok {
			return append([]string(nil), list...)
		}
	}
	return append([]string(nil), defaultTable[chapter]...)
}

// ValidChapter reports whether n is a chapter number the engine accepts.
func ValidChapter(n int) bool {
	return n >= MinChapter && n <= MaxChapter
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
