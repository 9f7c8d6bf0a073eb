package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/sections"
)

type fakeAnalyzer struct {
	responses map[Category]RawResponse
	got       AnalysisRequest
}

func (f *fakeAnalyzer) Dispatch(_ context.Context, req AnalysisRequest) map[Category]RawResponse {
	f.got = req
	return f.responses
}

type memoryStore struct {
	mu      sync.Mutex
	records []ChapterRecord
	err     error
}

func (m *memoryStore) Insert(_ context.Context, rec ChapterRecord) (ChapterRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return ChapterRecord{}, m.err
	}
	version := 1
	for i := range m.records {
		r := &m.records[i]
		if r.GroupID == rec.GroupID && r.ChapterNumber == rec.ChapterNumber {
			r.IsCurrent = false
			if r.Version >= version {
				version = r.Version + 1
			}
		}
	}
	rec.Version = version
	rec.IsCurrent = true
	m.records = append(m.records, rec)
	return rec, nil
}

func newTestService(an Analyzer, st RecordStore) *Service {
	return NewService(ServiceDeps{
		Analyzer:  an,
		Store:     st,
		Catalog:   sections.Default(),
		Assembler: NewAssembler(0, fixedNow, logger.Nop()),
		Logger:    logger.Nop(),
	})
}

func healthyResponses() map[Category]RawResponse {
	return map[Category]RawResponse{
		CategoryOriginality:     okResponse(CategoryOriginality, `{"ai_percentage": 12}`),
		CategoryCompleteness:    okResponse(CategoryCompleteness, `{"completeness_score": 90}`),
		CategoryCitation:        okResponse(CategoryCitation, `{"total_citations": 10, "correct_citations": 7}`),
		CategorySpellingGrammar: okResponse(CategorySpellingGrammar, `{"spelling_errors": 2, "grammar_errors": 0, "word_count": 500}`),
	}
}

func TestSubmitCitationTimeoutStillStores(t *testing.T) {
	responses := healthyResponses()
	responses[CategoryCitation] = RawResponse{Category: CategoryCitation, Err: fmt.Errorf("%w: %v", ErrDispatchDeadline, context.DeadlineExceeded)}
	an := &fakeAnalyzer{responses: responses}
	st := &memoryStore{}
	svc := newTestService(an, st)

	res, err := svc.Submit(context.Background(), Submission{
		GroupID: "group-1", Chapter: 2, FileName: "ch2.pdf", ContentType: "application/pdf",
		File: strings.NewReader("chapter body"),
	})
	if err != nil {
		t.Fatalf("expected submission to succeed, got %v", err)
	}
	if res.Report.Citation.Success || res.Report.Citation.Score != 0 {
		t.Fatalf("expected failed citation with score 0, got %+v", res.Report.Citation)
	}
	for _, c := range []Category{CategoryOriginality, CategoryCompleteness, CategorySpellingGrammar} {
		if !res.Report.Get(c).Success {
			t.Fatalf("%s: expected success", c)
		}
	}
	if res.Report.Originality.Score != 12 || res.Report.Completeness.Score != 90 || res.Report.SpellingGrammar.Score != 97.5 {
		t.Fatalf("unexpected scores %+v", res.Report)
	}
	if res.Record.Version != 1 || !res.Record.IsCurrent {
		t.Fatalf("unexpected record version %+v", res.Record)
	}
	if res.Record.FileSize != int64(len("chapter body")) || len(res.Record.FileSHA256) != 64 {
		t.Fatalf("unexpected file metadata %+v", res.Record)
	}
	if len(an.got.Chapter.EnabledSections) != len(sections.Default().Sections(2)) {
		t.Fatalf("expected catalog sections, got %v", an.got.Chapter.EnabledSections)
	}
}

func TestSubmitUsesRequestedSections(t *testing.T) {
	an := &fakeAnalyzer{responses: healthyResponses()}
	svc := newTestService(an, &memoryStore{})
	res, err := svc.Submit(context.Background(), Submission{
		GroupID: "g", Chapter: 1, File: strings.NewReader("x"),
		EnabledSections: []string{" Background of the Study ", "background of the study", "", "Definition of Terms"},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Background of the Study", "Definition of Terms"}
	if strings.Join(an.got.Chapter.EnabledSections, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected sections %v", an.got.Chapter.EnabledSections)
	}
	if strings.Join(res.Record.EnabledSections, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected stored sections %v", res.Record.EnabledSections)
	}
}

func TestSubmitVersionsAdvance(t *testing.T) {
	st := &memoryStore{}
	svc := newTestService(&fakeAnalyzer{responses: healthyResponses()}, st)
	for i := 0; i < 2; i++ {
		if _, err := svc.Submit(context.Background(), Submission{GroupID: "g", Chapter: 4, File: strings.NewReader("v")}); err != nil {
			t.Fatal(err)
		}
	}
	if len(st.records) != 2 || st.records[0].IsCurrent || !st.records[1].IsCurrent || st.records[1].Version != 2 {
		t.Fatalf("unexpected stored versions %+v", st.records)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name  string
		sub   Submission
		store *memoryStore
		want  error
		op    string
	}{
		{"missing group", Submission{Chapter: 1, File: strings.NewReader("x")}, &memoryStore{}, ErrInvalidSubmission, "validate"},
		{"bad chapter", Submission{GroupID: "g", Chapter: 6, File: strings.NewReader("x")}, &memoryStore{}, ErrInvalidSubmission, "validate"},
		{"unreadable", Submission{GroupID: "g", Chapter: 1, File: failingReader{}}, &memoryStore{}, ErrDocumentUnreadable, "read_document"},
		{"persist", Submission{GroupID: "g", Chapter: 1, File: strings.NewReader("x")}, &memoryStore{err: errors.New("database is locked")}, ErrPersistFailed, "persist"},
	}
	for _, tt := range tests {
		svc := newTestService(&fakeAnalyzer{responses: healthyResponses()}, tt.store)
		_, err := svc.Submit(context.Background(), tt.sub)
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
			continue
		}
		var se *SubmissionError
		if !errors.As(err, &se) || se.Op != tt.op {
			t.Errorf("%s: expected op %q, got %v", tt.name, tt.op, err)
		}
	}
}
