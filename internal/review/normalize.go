package review

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/sections"
)

// Normalizer maps one category's raw response onto a CategoryReport. It never
// fails: anything it cannot use becomes a documented fallback report.
type Normalizer interface {
	Normalize(raw RawResponse, cc ChapterContext) CategoryReport
}

// Normalizers holds one normalizer per category.
type Normalizers map[Category]Normalizer

func NewNormalizers(catalog sections.Provider, log *logger.Logger) Normalizers {
	return Normalizers{
		CategoryOriginality:     NewOriginalityNormalizer(log),
		CategoryCompleteness:    NewCompletenessNormalizer(catalog, log),
		CategoryCitation:        NewCitationNormalizer(log),
		CategorySpellingGrammar: NewSpellingGrammarNormalizer(log),
	}
}

// NormalizeAll normalizes every category. A category missing from raw is
// treated as a transport failure.
func (n Normalizers) NormalizeAll(raw map[Category]RawResponse, cc ChapterContext) map[Category]CategoryReport {
	out := make(map[Category]CategoryReport, len(Categories))
	for _, c := range Categories {
		r, ok := raw[c]
		if !ok {
			r = RawResponse{Category: c, Err: errors.New("no response recorded")}
		}
		norm, ok := n[c]
		if !ok {
			out[c] = failureReport(c, "no normalizer registered", fallbackDetail(c))
			continue
		}
		out[c] = norm.Normalize(r, cc)
	}
	return out
}

// usableBody returns the body when the response can be parsed, or a
// descriptive reason why it cannot.
func usableBody(raw RawResponse) ([]byte, string) {
	if raw.Err != nil {
		if errors.Is(raw.Err, context.DeadlineExceeded) || errors.Is(raw.Err, ErrDispatchDeadline) {
			return nil, fmt.Sprintf("request timed out: %v", raw.Err)
		}
		return nil, fmt.Sprintf("transport error: %v", raw.Err)
	}
	if raw.StatusCode != http.StatusOK {
		return nil, fmt.Sprintf("service returned HTTP %d", raw.StatusCode)
	}
	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		return nil, "empty response body"
	}
	return body, ""
}

func failureReport(c Category, reason string, detail Detail) CategoryReport {
	return CategoryReport{
		Category:      c,
		Score:         0,
		Feedback:      fmt.Sprintf("%s analysis unavailable: %s", c.Label(), reason),
		Success:       false,
		FailureReason: reason,
		Detail:        detail,
	}
}

// fallbackDetail is the empty, well-formed detail for a category.
func fallbackDetail(c Category) Detail {
	switch c {
	case CategoryOriginality:
		return OriginalityDetail{ScoreSource: ScoreSourceFallback, Blocks: []OriginalityBlock{}}
	case CategoryCompleteness:
		return CompletenessDetail{Sections: []SectionStatus{}, MissingSections: []string{}}
	case CategoryCitation:
		return CitationDetail{Citations: []CitationEntry{}}
	default:
		return SpellingGrammarDetail{Issues: []LanguageIssue{}}
	}
}
