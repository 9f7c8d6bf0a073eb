package review

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/sections"
)

func storedRecord(t *testing.T, raw map[Category]RawResponse, cc ChapterContext) ChapterRecord {
	t.Helper()
	reports := testNormalizers().NormalizeAll(raw, cc)
	a := NewAssembler(0, fixedNow, logger.Nop())
	rec, err := a.Flatten(RecordMeta{GroupID: cc.GroupID, Chapter: cc.Chapter, FileName: "chapter.pdf"}, a.Assemble(reports, cc.EnabledSections))
	if err != nil {
		t.Fatal(err)
	}
	rec.Version = 1
	rec.IsCurrent = true
	return rec
}

func TestProjectCurrentRecordMatchesAssembled(t *testing.T) {
	cc := ChapterContext{GroupID: "g1", Chapter: 2, EnabledSections: sections.Default().Sections(2)}
	rec := storedRecord(t, map[Category]RawResponse{
		CategoryOriginality:     okResponse(CategoryOriginality, `{"blocks":[{"probability":80},{"probability":20}]}`),
		CategoryCompleteness:    okResponse(CategoryCompleteness, `{"completeness_score":80,"sections":{"Synthesis":true}}`),
		CategoryCitation:        okResponse(CategoryCitation, `{"total_citations":10,"correct_citations":7}`),
		CategorySpellingGrammar: okResponse(CategorySpellingGrammar, `{"spelling_errors":2,"grammar_errors":0,"word_count":500}`),
	}, cc)

	got := NewProjector(sections.Default()).Project(rec)
	if got.Status() != "complete" {
		t.Fatalf("expected complete report, got %q", got.Status())
	}
	if got.Originality.Score != 50 || got.Citation.Score != 70 || got.SpellingGrammar.Score != 97.5 {
		t.Fatalf("unexpected scores %v %v %v", got.Originality.Score, got.Citation.Score, got.SpellingGrammar.Score)
	}
	d := got.Citation.Detail.(CitationDetail)
	if d.TotalCitations != 10 || d.CorrectCitations != 7 {
		t.Fatalf("unexpected citation detail %+v", d)
	}
	cd := got.Completeness.Detail.(CompletenessDetail)
	if len(cd.Sections) != 5 {
		t.Fatalf("expected 5 sections, got %d", len(cd.Sections))
	}
}

func TestProjectIsIdempotent(t *testing.T) {
	cc := ChapterContext{GroupID: "g1", Chapter: 3}
	rec := storedRecord(t, map[Category]RawResponse{
		CategoryOriginality:     okResponse(CategoryOriginality, `[{"probability":0.9},{"probability":0.1}]`),
		CategoryCitation:        {Category: CategoryCitation, Err: ErrDispatchDeadline},
		CategorySpellingGrammar: okResponse(CategorySpellingGrammar, `{"issues":[{"type":"typo","message":"teh"}]}`),
	}, cc)

	p := NewProjector(sections.Default())
	first, err := json.Marshal(p.Project(rec))
	if err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(p.Project(rec))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("projection is not idempotent:\n%s\n%s", first, second)
	}
}

func TestProjectLegacyShapes(t *testing.T) {
	rec := ChapterRecord{
		GroupID:       "legacy",
		ChapterNumber: 4,
		GeneratedAt:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),

		OriginalityScore:  50,
		OriginalityReport: `[{"probability":0.8},{"probability":0.2}]`,

		CitationScore:  80,
		CitationReport: `{"citations_report":{"citations":[{"text":"a","valid":true},{"text":"b","valid":false}]},"summary":{"total_citations":5,"correct_citations":4}}`,

		SpellingScore:         95,
		GrammarScore:          95,
		SpellingGrammarReport: `{"spelling_errors":2,"grammar_errors":1,"statistics":{"word_count":500}}`,
	}
	got := NewProjector(sections.Default()).Project(rec)

	od := got.Originality.Detail.(OriginalityDetail)
	if !got.Originality.Success || got.Originality.Score != 50 || od.TotalBlocks != 2 || od.FlaggedBlocks != 1 {
		t.Fatalf("unexpected originality %+v", got.Originality)
	}

	cd := got.Citation.Detail.(CitationDetail)
	if cd.TotalCitations != 5 || cd.CorrectCitations != 4 || cd.IncorrectCitations != 1 {
		t.Fatalf("expected stored summary to win, got %+v", cd)
	}
	if got.Citation.Score != 80 {
		t.Fatalf("expected stored score column, got %v", got.Citation.Score)
	}

	sd := got.SpellingGrammar.Detail.(SpellingGrammarDetail)
	if sd.WordCount != 500 || sd.TotalIssues != 3 {
		t.Fatalf("expected synthesized summary stats, got %+v", sd)
	}
	if got.SpellingGrammar.Score != 95 {
		t.Fatalf("expected language score 95, got %v", got.SpellingGrammar.Score)
	}

	if got.Completeness.Success {
		t.Fatal("expected empty completeness column to project as failure")
	}
	if got.Completeness.FailureReason != "no stored analysis" {
		t.Fatalf("unexpected reason %q", got.Completeness.FailureReason)
	}
}

func TestProjectEmptyDetailKeepsStoredScore(t *testing.T) {
	rec := ChapterRecord{GroupID: "g", ChapterNumber: 1, CompletenessScore: 70, CompletenessFeedback: "Most sections present."}
	got := NewProjector(sections.Default()).Project(rec)
	if !got.Completeness.Success || got.Completeness.Score != 70 || got.Completeness.Feedback != "Most sections present." {
		t.Fatalf("unexpected completeness %+v", got.Completeness)
	}
}

func TestProjectLegacyFailureFlag(t *testing.T) {
	rec := ChapterRecord{GroupID: "g", ChapterNumber: 1, CitationReport: `{"success":false,"failure_reason":"service returned HTTP 500"}`}
	got := NewProjector(sections.Default()).Project(rec)
	if got.Citation.Success {
		t.Fatal("expected stored failure flag to be honored")
	}
	if got.Citation.Feedback != "Citation analysis unavailable: service returned HTTP 500" {
		t.Fatalf("unexpected feedback %q", got.Citation.Feedback)
	}
}

func TestProjectTruncatedDetail(t *testing.T) {
	a := NewAssembler(600, fixedNow, logger.Nop())
	rec, err := a.Flatten(RecordMeta{GroupID: "g", Chapter: 1}, a.Assemble(map[Category]CategoryReport{
		CategorySpellingGrammar: oversizedLanguageReport(200),
	}, nil))
	if err != nil {
		t.Fatal(err)
	}
	got := NewProjector(sections.Default()).Project(rec)
	if !got.SpellingGrammar.Truncated || !got.SpellingGrammar.Success {
		t.Fatalf("expected truncated success, got %+v", got.SpellingGrammar)
	}
	if got.SpellingGrammar.Feedback != "many issues" {
		t.Fatalf("expected stored feedback, got %q", got.SpellingGrammar.Feedback)
	}
}

func TestProjectUnrecognizedLegacyPayloadFails(t *testing.T) {
	rec := ChapterRecord{
		GroupID:       "g",
		ChapterNumber: 1,

		OriginalityReport: `{"error":"service down"}`,

		CitationScore:    60,
		CitationFeedback: "Most citations formatted correctly.",
		CitationReport:   `{"status":"done"}`,
	}
	got := NewProjector(sections.Default()).Project(rec)

	if got.Originality.Success || got.Originality.FailureReason != "unrecognized stored payload" {
		t.Fatalf("expected unrecognized payload failure, got %+v", got.Originality)
	}
	if got.Originality.Feedback != "Content Originality analysis unavailable: unrecognized stored payload" {
		t.Fatalf("unexpected feedback %q", got.Originality.Feedback)
	}
	if got.Originality.Score != 0 {
		t.Fatalf("expected no invented score, got %v", got.Originality.Score)
	}

	if got.Citation.Success {
		t.Fatalf("expected citation failure, got %+v", got.Citation)
	}
	if got.Citation.Score != 60 || got.Citation.Feedback != "Most citations formatted correctly." {
		t.Fatalf("expected stored score and feedback to be kept, got %+v", got.Citation)
	}
}

func TestProjectLegacySummaryCountsOnly(t *testing.T) {
	rec := ChapterRecord{GroupID: "g", ChapterNumber: 1, OriginalityScore: 37.5, OriginalityReport: `{"summary":{"total_blocks":8,"flagged_blocks":3}}`}
	got := NewProjector(sections.Default()).Project(rec)
	d := got.Originality.Detail.(OriginalityDetail)
	if !got.Originality.Success || d.TotalBlocks != 8 || d.FlaggedBlocks != 3 || d.Percentage != 37.5 {
		t.Fatalf("unexpected originality %+v", got.Originality)
	}
}
