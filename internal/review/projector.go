package review

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/joelkehle/chapter-review/internal/sections"
)

// Projector rebuilds a CombinedReport from a stored record. Records written
// by older releases carry details in several historical shapes; all of them
// are mapped onto the current detail types.
type Projector struct {
	catalog sections.Provider
}

func NewProjector(catalog sections.Provider) *Projector {
	return &Projector{catalog: catalog}
}

// Summary locations seen in stored details, most explicit first.
var (
	wordCountPaths      = []string{"word_count", "summary.word_count", "statistics.word_count", "stats.word_count", "stats.words", "spelling_grammar.word_count", "result.word_count"}
	totalIssuesPaths    = []string{"total_issues", "summary.total_issues", "statistics.total_issues", "stats.total_issues", "spelling_grammar.total_issues", "result.total_issues"}
	totalCitationPaths  = []string{"total_citations", "summary.total_citations", "citation_analysis.total_citations", "citations_report.total_citations", "result.total_citations", "stats.total"}
	correctCitationPath = []string{"correct_citations", "valid_citations", "summary.correct_citations", "citation_analysis.correct_citations", "citations_report.correct_citations", "result.correct_citations", "stats.correct"}
	totalBlocksPaths    = []string{"total_blocks", "summary.total_blocks", "originality.total_blocks", "result.total_blocks", "analysis.total_blocks"}
	flaggedBlocksPaths  = []string{"flagged_blocks", "summary.flagged_blocks", "originality.flagged_blocks", "result.flagged_blocks", "analysis.flagged_blocks"}
)

// Project is deterministic: projecting the same record twice yields reports
// that serialize identically.
func (p *Projector) Project(rec ChapterRecord) CombinedReport {
	cc := ChapterContext{GroupID: rec.GroupID, Chapter: rec.ChapterNumber, EnabledSections: rec.EnabledSections}
	enabled := rec.EnabledSections
	if enabled == nil {
		enabled = []string{}
	}
	out := CombinedReport{
		GeneratedAt:     rec.GeneratedAt.UTC(),
		EnabledSections: append([]string{}, enabled...),
	}
	out.set(p.project(CategoryOriginality, rec.OriginalityReport, rec.OriginalityScore, rec.OriginalityFeedback, cc))
	out.set(p.project(CategoryCompleteness, rec.CompletenessReport, rec.CompletenessScore, rec.CompletenessFeedback, cc))
	out.set(p.project(CategoryCitation, rec.CitationReport, rec.CitationScore, rec.CitationFeedback, cc))

	sg := p.project(CategorySpellingGrammar, rec.SpellingGrammarReport, 0, rec.SpellingGrammarFeedback, cc)
	if d, ok := sg.Detail.(SpellingGrammarDetail); ok && (rec.SpellingScore != 0 || rec.GrammarScore != 0) {
		d.SpellingScore = rec.SpellingScore
		d.GrammarScore = rec.GrammarScore
		sg.Detail = d
	}
	if sg.Success {
		if d, ok := sg.Detail.(SpellingGrammarDetail); ok {
			sg.Score = LanguageScore(d.SpellingScore, d.GrammarScore)
		}
	}
	out.set(sg)
	return out
}

func (p *Projector) project(c Category, blob string, score float64, feedback string, cc ChapterContext) CategoryReport {
	rep := CategoryReport{
		Category: c,
		Score:    clampScore(score),
		Feedback: feedback,
		Detail:   fallbackDetail(c),
	}
	raw := bytes.TrimSpace([]byte(blob))
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		rep.Success = score != 0 || feedback != ""
		if !rep.Success {
			rep.FailureReason = "no stored analysis"
			if rep.Feedback == "" {
				rep.Feedback = c.Label() + " analysis unavailable: no stored analysis"
			}
		}
		return rep
	}

	doc := gjson.ParseBytes(raw)
	rep.Success = true
	storedSuccess := doc.IsObject() && doc.Get("success").Exists()
	if storedSuccess {
		rep.Success = doc.Get("success").Bool()
	}
	if doc.IsObject() {
		rep.Degraded = doc.Get("degraded").Bool()
		rep.FailureReason = doc.Get("failure_reason").String()
	}

	if doc.Get("truncated").Bool() {
		rep.Truncated = true
		return p.fillFeedback(rep)
	}

	if doc.Get("schema_version").Int() == detailSchemaVersion {
		if d, ok := decodeCurrentDetail(c, raw); ok {
			rep.Detail = d
		}
		return p.fillFeedback(rep)
	}

	d, err := p.legacyDetail(c, raw, doc, cc)
	rep.Detail = d
	if err != nil && !storedSuccess {
		// Valid JSON that no decoder accepts is not evidence of a successful
		// analysis. The stored score and feedback columns are kept as-is.
		rep.Success = false
		if rep.FailureReason == "" {
			rep.FailureReason = unrecognizedStoredPayload
		}
	}
	return p.fillFeedback(rep)
}

func (p *Projector) fillFeedback(rep CategoryReport) CategoryReport {
	if rep.Feedback != "" {
		return rep
	}
	if !rep.Success {
		reason := rep.FailureReason
		if reason == "" {
			reason = "no stored analysis"
		}
		rep.Feedback = rep.Category.Label() + " analysis unavailable: " + reason
		return rep
	}
	switch d := rep.Detail.(type) {
	case OriginalityDetail:
		rep.Feedback = originalityFeedback(d)
	case CompletenessDetail:
		rep.Feedback = completenessFeedback(d)
	case CitationDetail:
		if d.TotalCitations == 0 {
			rep.Feedback = noCitationsFeedback
		}
	case SpellingGrammarDetail:
		rep.Feedback = spellingFeedback(d)
	}
	return rep
}

func decodeCurrentDetail(c Category, raw []byte) (Detail, bool) {
	var err error
	var d Detail
	switch c {
	case CategoryOriginality:
		var v OriginalityDetail
		err = json.Unmarshal(raw, &v)
		if v.Blocks == nil {
			v.Blocks = []OriginalityBlock{}
		}
		d = v
	case CategoryCompleteness:
		var v CompletenessDetail
		err = json.Unmarshal(raw, &v)
		if v.Sections == nil {
			v.Sections = []SectionStatus{}
		}
		if v.MissingSections == nil {
			v.MissingSections = []string{}
		}
		d = v
	case CategoryCitation:
		var v CitationDetail
		err = json.Unmarshal(raw, &v)
		if v.Citations == nil {
			v.Citations = []CitationEntry{}
		}
		d = v
	default:
		var v SpellingGrammarDetail
		err = json.Unmarshal(raw, &v)
		if v.Issues == nil {
			v.Issues = []LanguageIssue{}
		}
		d = v
	}
	return d, err == nil
}

const unrecognizedStoredPayload = "unrecognized stored payload"

// legacyDetail decodes a historical payload with the same variant decoders the
// normalizers use, then lets explicitly stored summary figures override the
// recomputed ones. It returns an error when neither the decoders nor the
// summary paths recognize anything in the payload.
func (p *Projector) legacyDetail(c Category, raw []byte, doc gjson.Result, cc ChapterContext) (Detail, error) {
	switch c {
	case CategoryOriginality:
		total, hasTotal := probeInt(doc, totalBlocksPaths)
		flagged, hasFlagged := probeInt(doc, flaggedBlocksPaths)
		payload, err := decodeOriginality(raw)
		if err != nil {
			if !hasTotal {
				return fallbackDetail(c), err
			}
			d := OriginalityDetail{TotalBlocks: total, FlaggedBlocks: min(flagged, total), ScoreSource: ScoreSourceBlocks, Blocks: []OriginalityBlock{}}
			if total > 0 {
				d.Percentage = round2(float64(d.FlaggedBlocks) / float64(total) * 100)
			}
			return d, nil
		}
		d, _ := payload.canonical()
		if hasTotal && len(d.Blocks) == 0 {
			d.TotalBlocks = total
		}
		if hasFlagged && len(d.Blocks) == 0 {
			d.FlaggedBlocks = flagged
		}
		return d, nil

	case CategoryCompleteness:
		payload, err := decodeCompleteness(raw)
		if err != nil {
			return fallbackDetail(c), err
		}
		expected := cc.EnabledSections
		if len(expected) == 0 && p.catalog != nil {
			expected = p.catalog.Sections(cc.Chapter)
		}
		d, _ := payload.canonical(expected, cc.Chapter)
		return d, nil

	case CategoryCitation:
		d := CitationDetail{Citations: []CitationEntry{}}
		payload, err := decodeCitation(raw)
		if err == nil {
			d, _ = payload.canonical()
		}
		total, hasTotal := probeInt(doc, totalCitationPaths)
		if err != nil && !hasTotal {
			return d, err
		}
		if hasTotal {
			d.TotalCitations = total
		}
		if correct, ok := probeInt(doc, correctCitationPath); ok {
			d.CorrectCitations = correct
		}
		if d.CorrectCitations > d.TotalCitations {
			d.CorrectCitations = d.TotalCitations
		}
		d.IncorrectCitations = d.TotalCitations - d.CorrectCitations
		return d, nil

	default:
		d := SpellingGrammarDetail{Issues: []LanguageIssue{}}
		payload, err := decodeSpellingGrammar(raw)
		if err == nil {
			d, _ = payload.canonical()
		}
		words, hasWords := probeInt(doc, wordCountPaths)
		issues, hasIssues := probeInt(doc, totalIssuesPaths)
		if err != nil && !hasWords && !hasIssues {
			return d, err
		}
		if hasWords {
			d.WordCount = words
		}
		if hasIssues {
			d.TotalIssues = issues
		} else {
			d.TotalIssues = d.SpellingErrors + d.GrammarErrors
		}
		d.SpellingPer100 = IssuesPer100Words(d.SpellingErrors, d.WordCount)
		d.GrammarPer100 = IssuesPer100Words(d.GrammarErrors, d.WordCount)
		d.SpellingScore = SpellingScore(d.SpellingErrors, d.WordCount)
		d.GrammarScore = GrammarScore(d.GrammarErrors, d.WordCount)
		return d, nil
	}
}

// probeInt returns the first numeric value found at any of paths.
func probeInt(doc gjson.Result, paths []string) (int, bool) {
	for _, path := range paths {
		v := doc.Get(path)
		switch v.Type {
		case gjson.Number:
			if v.Num < 0 {
				return 0, true
			}
			if v.Num >= maxFlexInt {
				return maxFlexInt, true
			}
			return int(v.Int()), true
		case gjson.String:
			var f flexFloat
			if err := json.Unmarshal([]byte(v.Raw), &f); err == nil && f.ok() {
				return f.int(), true
			}
		}
	}
	return 0, false
}
