package review

import (
	"strings"
	"testing"

	"github.com/joelkehle/chapter-review/internal/logger"
)

func TestBuildMarkdownSections(t *testing.T) {
	a := NewAssembler(0, fixedNow, logger.Nop())
	report := a.Assemble(testNormalizers().NormalizeAll(map[Category]RawResponse{
		CategoryOriginality:     okResponse(CategoryOriginality, `{"blocks":[{"text":"copied | text","probability":90},{"probability":10}]}`),
		CategoryCitation:        okResponse(CategoryCitation, `{"citations":[{"text":"Smith 2020","valid":false,"issue":"missing page"}]}`),
		CategorySpellingGrammar: okResponse(CategorySpellingGrammar, `{"word_count":200,"issues":[{"type":"spelling","message":"teh","suggestions":["the"]}]}`),
	}, ChapterContext{GroupID: "g1", Chapter: 1}), nil)
	rec := ChapterRecord{GroupID: "g1", ChapterNumber: 1, Version: 2, IsCurrent: true, FileName: "ch1.pdf"}

	md := BuildMarkdown(rec, report)
	for _, want := range []string{
		"# Chapter 1 Review Report",
		"- Version: 2 (current)",
		"| Content Originality | 50.0 | ok |",
		"| Structural Completeness | 0.0 | unavailable |",
		`copied \| text`,
		"`Smith 2020`: missing page",
		"- [spelling] teh (suggest: the)",
		"## Appendix",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("expected markdown to contain %q", want)
		}
	}
}
