package review

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BuildMarkdown renders a stored chapter version as a markdown report.
func BuildMarkdown(rec ChapterRecord, report CombinedReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chapter %d Review Report\n\n", rec.ChapterNumber)
	fmt.Fprintf(&b, "- Group: %s\n", sanitizeLine(rec.GroupID))
	fmt.Fprintf(&b, "- Version: %d", rec.Version)
	if rec.IsCurrent {
		b.WriteString(" (current)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "- File: %s\n", sanitizeLine(rec.FileName))
	fmt.Fprintf(&b, "- Generated: %s\n", formatTime(report.GeneratedAt))
	fmt.Fprintf(&b, "- Status: **%s**\n\n", report.Status())

	fmt.Fprintf(&b, "## Summary\n\n")
	fmt.Fprintf(&b, "| Category | Score | Status |\n|---|---:|---|\n")
	for _, rep := range report.Reports() {
		fmt.Fprintf(&b, "| %s | %.1f | %s |\n", rep.Category.Label(), rep.Score, outcome(rep))
	}
	b.WriteString("\n")

	appendOriginality(&b, report.Originality)
	appendCompleteness(&b, report.Completeness, report.EnabledSections)
	appendCitation(&b, report.Citation)
	appendSpellingGrammar(&b, report.SpellingGrammar)

	fmt.Fprintf(&b, "## Appendix\n\n")
	fmt.Fprintf(&b, "### Category Details (JSON)\n\n```json\n%s\n```\n", prettyJSON(report))
	return b.String()
}

func appendCategoryHeader(b *strings.Builder, rep CategoryReport) {
	fmt.Fprintf(b, "## %s\n\n", rep.Category.Label())
	fmt.Fprintf(b, "- Score: %.1f\n", rep.Score)
	fmt.Fprintf(b, "- Status: %s\n", outcome(rep))
	fmt.Fprintf(b, "- Feedback: %s\n", sanitizeLine(rep.Feedback))
	if rep.Truncated {
		fmt.Fprintf(b, "- Note: stored details exceeded the size limit and were truncated.\n")
	}
	b.WriteString("\n")
}

func appendOriginality(b *strings.Builder, rep CategoryReport) {
	appendCategoryHeader(b, rep)
	d, ok := rep.Detail.(OriginalityDetail)
	if !ok || !rep.Success {
		return
	}
	fmt.Fprintf(b, "Flagged blocks: %d of %d (mean probability %.1f%%, source `%s`).\n\n", d.FlaggedBlocks, d.TotalBlocks, d.MeanProbability, d.ScoreSource)
	flagged := 0
	for _, blk := range d.Blocks {
		if !blk.Flagged {
			continue
		}
		if flagged == 0 {
			fmt.Fprintf(b, "| Block | Probability | Excerpt |\n|---:|---:|---|\n")
		}
		flagged++
		fmt.Fprintf(b, "| %d | %.1f%% | %s |\n", blk.Index, blk.Probability, cell(blk.Excerpt))
	}
	if flagged > 0 {
		b.WriteString("\n")
	}
}

func appendCompleteness(b *strings.Builder, rep CategoryReport, enabled []string) {
	appendCategoryHeader(b, rep)
	d, ok := rep.Detail.(CompletenessDetail)
	if !ok {
		return
	}
	if len(d.Sections) == 0 {
		if len(enabled) > 0 {
			fmt.Fprintf(b, "Sections checked: %s.\n\n", strings.Join(enabled, ", "))
		}
		return
	}
	fmt.Fprintf(b, "Relevance: %.1f\n\n", d.RelevanceScore)
	fmt.Fprintf(b, "| Section | Present | Relevance | Notes |\n|---|---|---:|---|\n")
	for _, s := range d.Sections {
		present := "no"
		if s.Present {
			present = "yes"
		}
		fmt.Fprintf(b, "| %s | %s | %.1f | %s |\n", cell(s.Name), present, s.Relevance, cell(s.Feedback))
	}
	b.WriteString("\n")
}

func appendCitation(b *strings.Builder, rep CategoryReport) {
	appendCategoryHeader(b, rep)
	d, ok := rep.Detail.(CitationDetail)
	if !ok || !rep.Success || d.TotalCitations == 0 {
		return
	}
	fmt.Fprintf(b, "- Total citations: %d\n", d.TotalCitations)
	fmt.Fprintf(b, "- Correct: %d\n", d.CorrectCitations)
	fmt.Fprintf(b, "- Incorrect: %d\n", d.IncorrectCitations)
	if d.Style != "" {
		fmt.Fprintf(b, "- Style: %s\n", d.Style)
	}
	b.WriteString("\n")
	for _, c := range d.Citations {
		if c.Valid {
			continue
		}
		fmt.Fprintf(b, "- `%s`: %s\n", strings.ReplaceAll(sanitizeLine(c.Text), "`", "'"), sanitizeLine(c.Issue))
	}
	b.WriteString("\n")
}

func appendSpellingGrammar(b *strings.Builder, rep CategoryReport) {
	appendCategoryHeader(b, rep)
	d, ok := rep.Detail.(SpellingGrammarDetail)
	if !ok || !rep.Success {
		return
	}
	fmt.Fprintf(b, "| Measure | Spelling | Grammar |\n|---|---:|---:|\n")
	fmt.Fprintf(b, "| Issues | %d | %d |\n", d.SpellingErrors, d.GrammarErrors)
	fmt.Fprintf(b, "| Per 100 words | %.2f | %.2f |\n", d.SpellingPer100, d.GrammarPer100)
	fmt.Fprintf(b, "| Score | %.1f | %.1f |\n\n", d.SpellingScore, d.GrammarScore)
	if d.WordCount > 0 {
		fmt.Fprintf(b, "Word count: %d\n\n", d.WordCount)
	}
	limit := len(d.Issues)
	if limit > 20 {
		limit = 20
	}
	for _, iss := range d.Issues[:limit] {
		line := fmt.Sprintf("- [%s] %s", iss.Kind, sanitizeLine(iss.Message))
		if len(iss.Suggestions) > 0 {
			line += " (suggest: " + strings.Join(iss.Suggestions, ", ") + ")"
		}
		b.WriteString(line + "\n")
	}
	if len(d.Issues) > limit {
		fmt.Fprintf(b, "- ... %d more\n", len(d.Issues)-limit)
	}
	if limit > 0 {
		b.WriteString("\n")
	}
}

func outcome(rep CategoryReport) string {
	switch {
	case !rep.Success:
		return "unavailable"
	case rep.Degraded:
		return "degraded"
	default:
		return "ok"
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func sanitizeLine(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if s == "" {
		return "-"
	}
	return s
}

func cell(s string) string {
	return strings.ReplaceAll(sanitizeLine(s), "|", `\|`)
}
