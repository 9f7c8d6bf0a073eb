package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joelkehle/chapter-review/internal/logger"
)

type spellingShape int

const (
	spellingUnknown spellingShape = iota
	spellingFlat
	spellingNested
	// separate "spelling" and "grammar" objects
	spellingSplit
)

var spellingNestKeys = []string{"spelling_grammar", "language", "result"}

type issueBody struct {
	Kind        string   `json:"kind"`
	Type        string   `json:"type"`
	Category    string   `json:"category"`
	RuleID      string   `json:"rule_id"`
	Message     string   `json:"message"`
	Text        string   `json:"text"`
	Context     string   `json:"context"`
	Sentence    string   `json:"sentence"`
	Suggestions []string `json:"suggestions"`
	Replacement []string `json:"replacements"`
}

// UnmarshalJSON also accepts a bare string, taken as the message.
func (b *issueBody) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*b = issueBody{}
		return json.Unmarshal(data, &b.Message)
	}
	type plain issueBody
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = issueBody(p)
	return nil
}

// issue classifies free-form kinds: anything that looks like a spelling
// problem is spelling, everything else is grammar.
func (b issueBody) issue(defaultKind string) LanguageIssue {
	kind := strings.ToLower(firstString(b.Kind, b.Type, b.Category, b.RuleID))
	switch {
	case kind == "":
		kind = defaultKind
	case strings.Contains(kind, "spell") || strings.Contains(kind, "typo") || strings.Contains(kind, "misspell"):
		kind = IssueSpelling
	default:
		kind = IssueGrammar
	}
	sugg := b.Suggestions
	if len(sugg) == 0 {
		sugg = b.Replacement
	}
	if len(sugg) > 5 {
		sugg = sugg[:5]
	}
	return LanguageIssue{
		Kind:        kind,
		Message:     firstString(b.Message, b.Text),
		Context:     excerpt(firstString(b.Context, b.Sentence), 160),
		Suggestions: sugg,
	}
}

// issueGroup is either a count or a list of issues, or an object holding
// one of those.
type issueGroup struct {
	count  *flexFloat
	issues []issueBody
}

func (g *issueGroup) UnmarshalJSON(b []byte) error {
	*g = issueGroup{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	switch b[0] {
	case '[':
		return json.Unmarshal(b, &g.issues)
	case '{':
		var obj struct {
			Count  *flexFloat      `json:"count"`
			Total  *flexFloat      `json:"total"`
			Errors json.RawMessage `json:"errors"`
			Issues []issueBody     `json:"issues"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		g.count, _ = firstFloat(obj.Count, obj.Total)
		g.issues = obj.Issues
		if errs := bytes.TrimSpace(obj.Errors); len(errs) > 0 {
			if errs[0] == '[' {
				if err := json.Unmarshal(errs, &g.issues); err != nil {
					return err
				}
			} else if g.count == nil {
				var c flexFloat
				_ = json.Unmarshal(errs, &c)
				if c.ok() {
					g.count = &c
				}
			}
		}
		return nil
	default:
		var c flexFloat
		_ = json.Unmarshal(b, &c)
		if c.ok() {
			g.count = &c
		}
		return nil
	}
}

func (g *issueGroup) present() bool {
	return g != nil && (g.count.ok() || g.issues != nil)
}

func (g *issueGroup) total() int {
	if g == nil {
		return 0
	}
	if g.count.ok() {
		return g.count.int()
	}
	return len(g.issues)
}

type spellingSummaryBody struct {
	WordCount   *flexFloat `json:"word_count"`
	Words       *flexFloat `json:"words"`
	TotalIssues *flexFloat `json:"total_issues"`
}

type spellingBody struct {
	WordCount      *flexFloat           `json:"word_count"`
	Words          *flexFloat           `json:"words"`
	SpellingErrors *flexFloat           `json:"spelling_errors"`
	GrammarErrors  *flexFloat           `json:"grammar_errors"`
	TotalIssues    *flexFloat           `json:"total_issues"`
	Spelling       *issueGroup          `json:"spelling"`
	Grammar        *issueGroup          `json:"grammar"`
	Issues         []issueBody          `json:"issues"`
	Matches        []issueBody          `json:"matches"`
	Summary        *spellingSummaryBody `json:"summary"`
	Feedback       string               `json:"feedback"`
	Message        string               `json:"message"`
}

func (b spellingBody) flat() bool {
	_, ok := firstFloat(b.SpellingErrors, b.GrammarErrors)
	return ok
}

func (b spellingBody) split() bool {
	return b.Spelling.present() || b.Grammar.present()
}

type spellingPayload struct {
	shape spellingShape
	body  spellingBody
}

func decodeSpellingGrammar(body []byte) (spellingPayload, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return spellingPayload{}, err
	}
	for _, key := range spellingNestKeys {
		raw, ok := objectField(root, key)
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		var b spellingBody
		if err := json.Unmarshal(raw, &nested); err != nil {
			return spellingPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			return spellingPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if b.shape(nested) != spellingUnknown {
			return spellingPayload{shape: spellingNested, body: b}, nil
		}
	}
	var b spellingBody
	if err := json.Unmarshal(body, &b); err != nil {
		return spellingPayload{}, err
	}
	if shape := b.shape(root); shape != spellingUnknown {
		return spellingPayload{shape: shape, body: b}, nil
	}
	return spellingPayload{}, errUnrecognizedShape
}

func (b spellingBody) shape(obj map[string]json.RawMessage) spellingShape {
	switch {
	case b.flat():
		return spellingFlat
	case b.split():
		return spellingSplit
	case hasAny(obj, "issues", "matches"):
		// an issue list alone is counted like the flat shape
		return spellingFlat
	}
	return spellingUnknown
}

func (p spellingPayload) canonical() (SpellingGrammarDetail, string) {
	b := p.body
	d := SpellingGrammarDetail{Issues: []LanguageIssue{}}

	for _, it := range append(append([]issueBody{}, b.Issues...), b.Matches...) {
		d.Issues = append(d.Issues, it.issue(IssueGrammar))
	}
	if b.Spelling != nil {
		for _, it := range b.Spelling.issues {
			iss := it.issue(IssueSpelling)
			iss.Kind = IssueSpelling
			d.Issues = append(d.Issues, iss)
		}
	}
	if b.Grammar != nil {
		for _, it := range b.Grammar.issues {
			iss := it.issue(IssueGrammar)
			iss.Kind = IssueGrammar
			d.Issues = append(d.Issues, iss)
		}
	}
	listSpelling, listGrammar := 0, 0
	for _, iss := range d.Issues {
		if iss.Kind == IssueSpelling {
			listSpelling++
		} else {
			listGrammar++
		}
	}

	switch {
	case b.SpellingErrors.ok():
		d.SpellingErrors = b.SpellingErrors.int()
	case b.Spelling.present():
		d.SpellingErrors = b.Spelling.total()
	default:
		d.SpellingErrors = listSpelling
	}
	switch {
	case b.GrammarErrors.ok():
		d.GrammarErrors = b.GrammarErrors.int()
	case b.Grammar.present():
		d.GrammarErrors = b.Grammar.total()
	default:
		d.GrammarErrors = listGrammar
	}

	var summaryWords, summaryTotal *flexFloat
	if b.Summary != nil {
		summaryWords, _ = firstFloat(b.Summary.WordCount, b.Summary.Words)
		summaryTotal = b.Summary.TotalIssues
	}
	if v, ok := firstFloat(b.WordCount, b.Words, summaryWords); ok {
		d.WordCount = v.int()
	}
	if v, ok := firstFloat(b.TotalIssues, summaryTotal); ok {
		d.TotalIssues = v.int()
	} else {
		d.TotalIssues = d.SpellingErrors + d.GrammarErrors
	}

	d.SpellingPer100 = IssuesPer100Words(d.SpellingErrors, d.WordCount)
	d.GrammarPer100 = IssuesPer100Words(d.GrammarErrors, d.WordCount)
	d.SpellingScore = SpellingScore(d.SpellingErrors, d.WordCount)
	d.GrammarScore = GrammarScore(d.GrammarErrors, d.WordCount)
	return d, firstString(b.Feedback, b.Message)
}

type SpellingGrammarNormalizer struct {
	log *logger.Logger
}

func NewSpellingGrammarNormalizer(log *logger.Logger) *SpellingGrammarNormalizer {
	return &SpellingGrammarNormalizer{log: log}
}

func (n *SpellingGrammarNormalizer) Normalize(raw RawResponse, cc ChapterContext) CategoryReport {
	body, reason := usableBody(raw)
	if reason != "" {
		return failureReport(CategorySpellingGrammar, reason, fallbackDetail(CategorySpellingGrammar))
	}
	payload, err := decodeSpellingGrammar(body)
	if err != nil {
		n.log.Warn("spelling/grammar payload rejected", "group_id", cc.GroupID, "chapter", cc.Chapter, "error", err)
		return failureReport(CategorySpellingGrammar, "malformed response: "+err.Error(), fallbackDetail(CategorySpellingGrammar))
	}
	detail, feedback := payload.canonical()
	if feedback == "" {
		feedback = spellingFeedback(detail)
	}
	return CategoryReport{
		Category: CategorySpellingGrammar,
		Score:    LanguageScore(detail.SpellingScore, detail.GrammarScore),
		Feedback: feedback,
		Success:  true,
		Detail:   detail,
	}
}

func spellingFeedback(d SpellingGrammarDetail) string {
	if d.SpellingErrors == 0 && d.GrammarErrors == 0 {
		return "No spelling or grammar issues were found."
	}
	if d.WordCount <= 0 {
		return fmt.Sprintf("Found %d spelling and %d grammar issues.", d.SpellingErrors, d.GrammarErrors)
	}
	return fmt.Sprintf("Found %d spelling and %d grammar issues in %d words (%.2f and %.2f per 100 words).",
		d.SpellingErrors, d.GrammarErrors, d.WordCount, d.SpellingPer100, d.GrammarPer100)
}
