package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/sections"
)

// Analyzer runs the category analyses for one document.
type Analyzer interface {
	Dispatch(ctx context.Context, req AnalysisRequest) map[Category]RawResponse
}

// RecordStore persists a chapter version and returns it with its assigned
// version number.
type RecordStore interface {
	Insert(ctx context.Context, rec ChapterRecord) (ChapterRecord, error)
}

type Submission struct {
	GroupID         string
	Chapter         int
	FileName        string
	ContentType     string
	File            io.Reader
	EnabledSections []string
}

type SubmitResult struct {
	Record ChapterRecord
	Report CombinedReport
}

type ServiceDeps struct {
	Analyzer    Analyzer
	Normalizers Normalizers
	Assembler   *Assembler
	Store       RecordStore
	Catalog     sections.Provider
	Logger      *logger.Logger
}

type Service struct {
	analyzer    Analyzer
	normalizers Normalizers
	assembler   *Assembler
	store       RecordStore
	catalog     sections.Provider
	log         *logger.Logger
}

func NewService(deps ServiceDeps) *Service {
	s := &Service{
		analyzer:    deps.Analyzer,
		normalizers: deps.Normalizers,
		assembler:   deps.Assembler,
		store:       deps.Store,
		catalog:     deps.Catalog,
		log:         deps.Logger,
	}
	if s.catalog == nil {
		s.catalog = sections.Default()
	}
	if s.normalizers == nil {
		s.normalizers = NewNormalizers(s.catalog, s.log)
	}
	if s.assembler == nil {
		s.assembler = NewAssembler(DefaultMaxDetailBytes, nil, s.log)
	}
	return s
}

// Submit analyzes one chapter document and stores the result as the chapter's
// new current version. Category failures are recorded in the report and do
// not fail the submission; only invalid input, an unreadable document, or a
// failed insert do.
func (s *Service) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	groupID := strings.TrimSpace(sub.GroupID)
	if groupID == "" {
		return SubmitResult{}, &SubmissionError{Op: "validate", Err: fmt.Errorf("%w: group id is required", ErrInvalidSubmission)}
	}
	if !sections.ValidChapter(sub.Chapter) {
		return SubmitResult{}, &SubmissionError{Op: "validate", Err: fmt.Errorf("%w: chapter must be between %d and %d, got %d",
			ErrInvalidSubmission, sections.MinChapter, sections.MaxChapter, sub.Chapter)}
	}
	if sub.File == nil {
		return SubmitResult{}, &SubmissionError{Op: "validate", Err: fmt.Errorf("%w: document is required", ErrInvalidSubmission)}
	}

	content, err := io.ReadAll(sub.File)
	if err != nil {
		return SubmitResult{}, &SubmissionError{Op: "read_document", Err: fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)}
	}
	if len(content) == 0 {
		return SubmitResult{}, &SubmissionError{Op: "read_document", Err: fmt.Errorf("%w: document is empty", ErrDocumentUnreadable)}
	}
	sum := sha256.Sum256(content)

	enabled := cleanSections(sub.EnabledSections)
	if len(enabled) == 0 {
		enabled = s.catalog.Sections(sub.Chapter)
	}
	cc := ChapterContext{GroupID: groupID, Chapter: sub.Chapter, EnabledSections: enabled}

	start := time.Now()
	raw := s.analyzer.Dispatch(ctx, AnalysisRequest{
		Document: Document{Name: sub.FileName, ContentType: sub.ContentType, Content: content},
		Chapter:  cc,
	})
	reports := s.normalizers.NormalizeAll(raw, cc)
	combined := s.assembler.Assemble(reports, enabled)

	rec, err := s.assembler.Flatten(RecordMeta{
		GroupID:     groupID,
		Chapter:     sub.Chapter,
		FileName:    sub.FileName,
		ContentType: sub.ContentType,
		FileSize:    int64(len(content)),
		FileSHA256:  hex.EncodeToString(sum[:]),
	}, combined)
	if err != nil {
		return SubmitResult{}, &SubmissionError{Op: "assemble", Err: err}
	}

	stored, err := s.store.Insert(ctx, rec)
	if err != nil {
		s.log.Error("chapter report persist failed", "group_id", groupID, "chapter", sub.Chapter, "error", err)
		return SubmitResult{}, &SubmissionError{Op: "persist", Err: fmt.Errorf("%w: %v", ErrPersistFailed, err)}
	}

	for _, rep := range combined.Reports() {
		r := raw[rep.Category]
		kv := []any{
			"group_id", groupID,
			"chapter", sub.Chapter,
			"version", stored.Version,
			"category", string(rep.Category),
			"success", rep.Success,
			"score", rep.Score,
			"elapsed_ms", r.Elapsed.Milliseconds(),
		}
		switch {
		case !rep.Success:
			s.log.Warn("category analysis failed", append(kv, "reason", rep.FailureReason)...)
		case rep.Degraded:
			s.log.Warn("category analysis degraded", kv...)
		default:
			s.log.Info("category analysis completed", kv...)
		}
	}
	s.log.Info("chapter submission stored",
		"group_id", groupID,
		"chapter", sub.Chapter,
		"version", stored.Version,
		"status", combined.Status(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return SubmitResult{Record: stored, Report: combined}, nil
}

func cleanSections(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
