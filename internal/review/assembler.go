package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/joelkehle/chapter-review/internal/logger"
)

const (
	DefaultMaxDetailBytes = 65000

	// detailSchemaVersion marks detail columns written in the canonical shape.
	detailSchemaVersion = 3
	truncationMarker    = "[truncated]"
)

// RecordMeta is the submission metadata stored alongside a report.
type RecordMeta struct {
	GroupID     string
	Chapter     int
	FileName    string
	ContentType string
	FileSize    int64
	FileSHA256  string
}

type Assembler struct {
	maxDetailBytes int
	now            func() time.Time
	newID          func() string
	log            *logger.Logger
}

func NewAssembler(maxDetailBytes int, now func() time.Time, log *logger.Logger) *Assembler {
	if maxDetailBytes <= 0 {
		maxDetailBytes = DefaultMaxDetailBytes
	}
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		maxDetailBytes: maxDetailBytes,
		now:            now,
		newID:          uuid.NewString,
		log:            log,
	}
}

// Assemble merges per-category reports into a CombinedReport. Categories
// without a report are filled in as failures.
func (a *Assembler) Assemble(reports map[Category]CategoryReport, enabled []string) CombinedReport {
	out := CombinedReport{
		GeneratedAt:     a.now().UTC(),
		EnabledSections: append([]string{}, enabled...),
	}
	for _, c := range Categories {
		rep, ok := reports[c]
		if !ok {
			rep = failureReport(c, "no result produced", fallbackDetail(c))
		}
		rep.Category = c
		rep.Score = clampScore(rep.Score)
		if rep.Detail == nil {
			rep.Detail = fallbackDetail(c)
		}
		out.set(rep)
	}
	return out
}

// Flatten produces the persisted record. Version, IsCurrent and CreatedAt are
// assigned by the store.
func (a *Assembler) Flatten(meta RecordMeta, report CombinedReport) (ChapterRecord, error) {
	rec := ChapterRecord{
		ID:              a.newID(),
		GroupID:         meta.GroupID,
		ChapterNumber:   meta.Chapter,
		FileName:        meta.FileName,
		ContentType:     meta.ContentType,
		FileSize:        meta.FileSize,
		FileSHA256:      meta.FileSHA256,
		EnabledSections: append([]string{}, report.EnabledSections...),
		GeneratedAt:     report.GeneratedAt,
	}

	columns := make(map[Category]string, len(Categories))
	for _, c := range Categories {
		blob, err := a.encodeDetail(report.Get(c))
		if err != nil {
			return ChapterRecord{}, fmt.Errorf("encode %s detail: %w", c, err)
		}
		columns[c] = blob
	}

	rec.OriginalityScore = report.Originality.Score
	rec.OriginalityFeedback = report.Originality.Feedback
	rec.OriginalityReport = columns[CategoryOriginality]

	rec.CompletenessScore = report.Completeness.Score
	rec.CompletenessFeedback = report.Completeness.Feedback
	rec.CompletenessReport = columns[CategoryCompleteness]

	rec.CitationScore = report.Citation.Score
	rec.CitationFeedback = report.Citation.Feedback
	rec.CitationReport = columns[CategoryCitation]

	if sg, ok := report.SpellingGrammar.Detail.(SpellingGrammarDetail); ok && report.SpellingGrammar.Success {
		rec.SpellingScore = sg.SpellingScore
		rec.GrammarScore = sg.GrammarScore
	}
	rec.SpellingGrammarFeedback = report.SpellingGrammar.Feedback
	rec.SpellingGrammarReport = columns[CategorySpellingGrammar]
	return rec, nil
}

type detailStatus struct {
	SchemaVersion int    `json:"schema_version"`
	Success       bool   `json:"success"`
	Degraded      bool   `json:"degraded,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type truncatedDetail struct {
	detailStatus
	Truncated     bool   `json:"truncated"`
	OriginalBytes int    `json:"original_bytes"`
	Marker        string `json:"marker"`
	Partial       string `json:"partial"`
}

// encodeDetail serializes the detail together with the category status. The
// result fits in maxDetailBytes unless the limit is smaller than an empty
// truncation envelope.
func (a *Assembler) encodeDetail(rep CategoryReport) (string, error) {
	status := detailStatus{
		SchemaVersion: detailSchemaVersion,
		Success:       rep.Success,
		Degraded:      rep.Degraded,
		FailureReason: rep.FailureReason,
	}
	detail := rep.Detail
	if detail == nil {
		detail = fallbackDetail(rep.Category)
	}
	detailJSON, err := marshalNoEscape(detail)
	if err != nil {
		return "", err
	}
	statusJSON, err := marshalNoEscape(status)
	if err != nil {
		return "", err
	}
	blob := mergeObjects(statusJSON, detailJSON)
	if len(blob) <= a.maxDetailBytes {
		return string(blob), nil
	}
	guarded, err := a.guardDetail(status, blob)
	if err != nil {
		return "", err
	}
	a.log.Warn("category detail truncated",
		"category", string(rep.Category),
		"original_bytes", len(blob),
		"stored_bytes", len(guarded),
		"limit", a.maxDetailBytes,
	)
	return guarded, nil
}

// guardDetail replaces an oversized blob with a truncation envelope carrying
// as long a prefix as fits.
func (a *Assembler) guardDetail(status detailStatus, blob []byte) (string, error) {
	env := truncatedDetail{
		detailStatus:  status,
		Truncated:     true,
		OriginalBytes: len(blob),
		Marker:        truncationMarker,
	}
	empty, err := marshalNoEscape(env)
	if err != nil {
		return "", err
	}
	budget := a.maxDetailBytes - len(empty)
	if budget <= 0 {
		return string(empty), nil
	}
	n := budget
	if n > len(blob) {
		n = len(blob)
	}
	for n >= 0 {
		n = utf8Boundary(blob, n)
		env.Partial = string(blob[:n])
		out, err := marshalNoEscape(env)
		if err != nil {
			return "", err
		}
		if len(out) <= a.maxDetailBytes {
			return string(out), nil
		}
		over := len(out) - a.maxDetailBytes
		n -= over
	}
	env.Partial = ""
	out, err := marshalNoEscape(env)
	return string(out), err
}

func utf8Boundary(b []byte, n int) int {
	if n <= 0 {
		return 0
	}
	if n >= len(b) {
		return len(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return n
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// mergeObjects joins two JSON objects. Keys of a come first.
func mergeObjects(a, b []byte) []byte {
	a = bytes.TrimSpace(a)
	b = bytes.TrimSpace(b)
	if len(b) < 2 || bytes.Equal(b, []byte("{}")) {
		return a
	}
	if len(a) < 2 || bytes.Equal(a, []byte("{}")) {
		return b
	}
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a[:len(a)-1]...)
	out = append(out, ',')
	out = append(out, b[1:]...)
	return out
}
