package review

import (
	"fmt"
	"time"
)

type Category string

const (
	CategoryOriginality     Category = "originality"
	CategoryCompleteness    Category = "completeness"
	CategoryCitation        Category = "citation"
	CategorySpellingGrammar Category = "spelling_grammar"
)

// Categories lists every analysis kind. A combined report always carries one
// entry per element.
var Categories = []Category{
	CategoryOriginality,
	CategoryCompleteness,
	CategoryCitation,
	CategorySpellingGrammar,
}

func (c Category) Label() string {
	switch c {
	case CategoryOriginality:
		return "Content Originality"
	case CategoryCompleteness:
		return "Structural Completeness"
	case CategoryCitation:
		return "Citation"
	case CategorySpellingGrammar:
		return "Spelling & Grammar"
	default:
		return string(c)
	}
}

// ChapterContext identifies the chapter being analyzed.
type ChapterContext struct {
	GroupID         string
	Chapter         int
	EnabledSections []string
}

func (c ChapterContext) Label() string {
	return fmt.Sprintf("Chapter %d", c.Chapter)
}

// Document is the uploaded file. Content is shared read-only by every
// category request.
type Document struct {
	Name        string
	ContentType string
	Content     []byte
}

type AnalysisRequest struct {
	Document Document
	Chapter  ChapterContext
}

// RawResponse is what one category service returned, or why it did not.
type RawResponse struct {
	Category   Category
	StatusCode int
	Body       []byte
	Err        error
	Elapsed    time.Duration
}

// Detail is the kind-specific payload of a CategoryReport.
type Detail interface {
	detailCategory() Category
}

type CategoryReport struct {
	Category      Category `json:"category"`
	Score         float64  `json:"score"`
	Feedback      string   `json:"feedback"`
	Success       bool     `json:"success"`
	Degraded      bool     `json:"degraded,omitempty"`
	Truncated     bool     `json:"truncated,omitempty"`
	FailureReason string   `json:"failure_reason,omitempty"`
	Detail        Detail   `json:"detail"`
}

type OriginalityBlock struct {
	Index       int     `json:"index"`
	Parent      int     `json:"parent"`
	Probability float64 `json:"probability"`
	Flagged     bool    `json:"flagged"`
	Excerpt     string  `json:"excerpt,omitempty"`
}

type OriginalityDetail struct {
	Percentage      float64            `json:"percentage"`
	TotalBlocks     int                `json:"total_blocks"`
	FlaggedBlocks   int                `json:"flagged_blocks"`
	MeanProbability float64            `json:"mean_probability"`
	ScoreSource     string             `json:"score_source"`
	Blocks          []OriginalityBlock `json:"blocks"`
}

func (OriginalityDetail) detailCategory() Category { return CategoryOriginality }

const (
	ScoreSourceService         = "service"
	ScoreSourceBlocks          = "blocks"
	ScoreSourceMeanProbability = "mean_probability"
	ScoreSourceFallback        = "fallback"
)

type SectionStatus struct {
	Name      string  `json:"name"`
	Present   bool    `json:"present"`
	Relevance float64 `json:"relevance"`
	Feedback  string  `json:"feedback,omitempty"`
}

type CompletenessDetail struct {
	Chapter           int             `json:"chapter"`
	CompletenessScore float64         `json:"completeness_score"`
	RelevanceScore    float64         `json:"relevance_score"`
	Sections          []SectionStatus `json:"sections"`
	MissingSections   []string        `json:"missing_sections"`
	Salvaged          bool            `json:"salvaged,omitempty"`
}

func (CompletenessDetail) detailCategory() Category { return CategoryCompleteness }

type CitationEntry struct {
	Text  string `json:"text"`
	Valid bool   `json:"valid"`
	Issue string `json:"issue,omitempty"`
}

type CitationDetail struct {
	TotalCitations     int             `json:"total_citations"`
	CorrectCitations   int             `json:"correct_citations"`
	IncorrectCitations int             `json:"incorrect_citations"`
	Style              string          `json:"style,omitempty"`
	Citations          []CitationEntry `json:"citations"`
}

func (CitationDetail) detailCategory() Category { return CategoryCitation }

const (
	IssueSpelling = "spelling"
	IssueGrammar  = "grammar"
)

type LanguageIssue struct {
	Kind        string   `json:"kind"`
	Message     string   `json:"message"`
	Context     string   `json:"context,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type SpellingGrammarDetail struct {
	WordCount      int             `json:"word_count"`
	SpellingErrors int             `json:"spelling_errors"`
	GrammarErrors  int             `json:"grammar_errors"`
	TotalIssues    int             `json:"total_issues"`
	SpellingPer100 float64         `json:"spelling_issues_per_100"`
	GrammarPer100  float64         `json:"grammar_issues_per_100"`
	SpellingScore  float64         `json:"spelling_score"`
	GrammarScore   float64         `json:"grammar_score"`
	Issues         []LanguageIssue `json:"issues"`
}

func (SpellingGrammarDetail) detailCategory() Category { return CategorySpellingGrammar }

// CombinedReport is the merged four-category result for one chapter
// submission. Every slot is always populated.
type CombinedReport struct {
	Originality     CategoryReport `json:"originality"`
	Completeness    CategoryReport `json:"completeness"`
	Citation        CategoryReport `json:"citation"`
	SpellingGrammar CategoryReport `json:"spelling_grammar"`
	GeneratedAt     time.Time      `json:"generated_at"`
	EnabledSections []string       `json:"enabled_sections_used"`
}

func (r CombinedReport) Get(c Category) CategoryReport {
	switch c {
	case CategoryOriginality:
		return r.Originality
	case CategoryCompleteness:
		return r.Completeness
	case CategoryCitation:
		return r.Citation
	default:
		return r.SpellingGrammar
	}
}

func (r *CombinedReport) set(rep CategoryReport) {
	switch rep.Category {
	case CategoryOriginality:
		r.Originality = rep
	case CategoryCompleteness:
		r.Completeness = rep
	case CategoryCitation:
		r.Citation = rep
	case CategorySpellingGrammar:
		r.SpellingGrammar = rep
	}
}

// Reports returns the four category reports in canonical order.
func (r CombinedReport) Reports() []CategoryReport {
	out := make([]CategoryReport, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, r.Get(c))
	}
	return out
}

// Status summarizes category outcomes: "complete" when every category
// succeeded, "failed" when none did, "partial" otherwise.
func (r CombinedReport) Status() string {
	ok := 0
	for _, rep := range r.Reports() {
		if rep.Success {
			ok++
		}
	}
	switch ok {
	case len(Categories):
		return "complete"
	case 0:
		return "failed"
	default:
		return "partial"
	}
}

// ChapterRecord is the persisted, flattened form of one chapter version.
type ChapterRecord struct {
	ID              string    `json:"id"`
	GroupID         string    `json:"group_id"`
	ChapterNumber   int       `json:"chapter_number"`
	Version         int       `json:"version"`
	IsCurrent       bool      `json:"is_current"`
	FileName        string    `json:"file_name"`
	ContentType     string    `json:"content_type"`
	FileSize        int64     `json:"file_size"`
	FileSHA256      string    `json:"file_sha256"`
	EnabledSections []string  `json:"enabled_sections"`
	GeneratedAt     time.Time `json:"generated_at"`
	CreatedAt       time.Time `json:"created_at"`

	OriginalityScore    float64 `json:"originality_score"`
	OriginalityFeedback string  `json:"originality_feedback"`
	OriginalityReport   string  `json:"-"`

	CompletenessScore    float64 `json:"completeness_score"`
	CompletenessFeedback string  `json:"completeness_feedback"`
	CompletenessReport   string  `json:"-"`

	CitationScore    float64 `json:"citation_score"`
	CitationFeedback string  `json:"citation_feedback"`
	CitationReport   string  `json:"-"`

	SpellingScore           float64 `json:"spelling_score"`
	GrammarScore            float64 `json:"grammar_score"`
	SpellingGrammarFeedback string  `json:"spelling_grammar_feedback"`
	SpellingGrammarReport   string  `json:"-"`
}

// VersionInfo is the listing view of a stored chapter version.
type VersionInfo struct {
	ID            string    `json:"id"`
	GroupID       string    `json:"group_id"`
	ChapterNumber int       `json:"chapter_number"`
	Version       int       `json:"version"`
	IsCurrent     bool      `json:"is_current"`
	FileName      string    `json:"file_name"`
	CreatedAt     time.Time `json:"created_at"`
}
