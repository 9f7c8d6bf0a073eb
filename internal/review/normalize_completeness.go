package review

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/joelkehle/chapter-review/internal/logger"
	"github.com/joelkehle/chapter-review/internal/sections"
)

type completenessShape int

const (
	completenessUnknown completenessShape = iota
	completenessFlat
	completenessNested
	// only a "sections" array or map; scores are derived from it
	completenessSections
)

var completenessNestKeys = []string{"completeness", "structure", "result"}

// salvageScorePattern recovers a score from a body that is not valid JSON.
// The key must start at a token boundary so "relevance_score" never matches.
var salvageScorePattern = regexp.MustCompile(`(?:^|[^A-Za-z0-9_])"?(completeness_score|score)"?\s*[:=]\s*"?(\d+(?:\.\d+)?)`)

const salvagedFeedback = "Structural completeness score recovered from a malformed response; section details unavailable."

type sectionBody struct {
	Name           string     `json:"name"`
	Section        string     `json:"section"`
	Title          string     `json:"title"`
	Present        *flexBool  `json:"present"`
	Found          *flexBool  `json:"found"`
	Exists         *flexBool  `json:"exists"`
	Relevance      *flexFloat `json:"relevance"`
	RelevanceScore *flexFloat `json:"relevance_score"`
	Feedback       string     `json:"feedback"`
	Comment        string     `json:"comment"`
}

func (s sectionBody) status(fallbackName string) SectionStatus {
	present, _ := firstBool(s.Present, s.Found, s.Exists)
	st := SectionStatus{
		Name:     firstString(s.Name, s.Section, s.Title, fallbackName),
		Present:  present,
		Feedback: firstString(s.Feedback, s.Comment),
	}
	if v, ok := firstFloat(s.Relevance, s.RelevanceScore); ok {
		st.Relevance = round2(clampScore(scaleUnit(v.value())))
	} else if present {
		st.Relevance = 100
	}
	return st
}

// sectionList accepts either an array of section objects or a map keyed by
// section name whose values are booleans or section objects.
type sectionList []SectionStatus

func (l *sectionList) UnmarshalJSON(b []byte) error {
	*l = nil
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		for _, item := range items {
			item = bytes.TrimSpace(item)
			if len(item) > 0 && item[0] == '"' {
				var name string
				if err := json.Unmarshal(item, &name); err == nil && strings.TrimSpace(name) != "" {
					*l = append(*l, SectionStatus{Name: strings.TrimSpace(name), Present: true, Relevance: 100})
				}
				continue
			}
			var s sectionBody
			if err := json.Unmarshal(item, &s); err != nil {
				continue
			}
			st := s.status("")
			if st.Name != "" {
				*l = append(*l, st)
			}
		}
		return nil
	}
	if b[0] != '{' {
		return fmt.Errorf("sections: unexpected JSON %q", b[:1])
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		raw := bytes.TrimSpace(m[name])
		if len(raw) > 0 && raw[0] == '{' {
			var s sectionBody
			if err := json.Unmarshal(raw, &s); err != nil {
				continue
			}
			*l = append(*l, s.status(name))
			continue
		}
		var present flexBool
		_ = json.Unmarshal(raw, &present)
		st := SectionStatus{Name: name, Present: present.v}
		if present.v {
			st.Relevance = 100
		}
		*l = append(*l, st)
	}
	return nil
}

type completenessBody struct {
	CompletenessScore *flexFloat  `json:"completeness_score"`
	Score             *flexFloat  `json:"score"`
	RelevanceScore    *flexFloat  `json:"relevance_score"`
	Relevance         *flexFloat  `json:"relevance"`
	Sections          sectionList `json:"sections"`
	MissingSections   []string    `json:"missing_sections"`
	Feedback          string      `json:"feedback"`
	Message           string      `json:"message"`
}

func (b completenessBody) score() (*flexFloat, bool) {
	return firstFloat(b.CompletenessScore, b.Score)
}

type completenessPayload struct {
	shape completenessShape
	body  completenessBody
}

func decodeCompleteness(body []byte) (completenessPayload, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return completenessPayload{}, err
	}
	for _, key := range completenessNestKeys {
		raw, ok := objectField(root, key)
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		var b completenessBody
		if err := json.Unmarshal(raw, &nested); err != nil {
			return completenessPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			return completenessPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if b.shape(nested) != completenessUnknown {
			return completenessPayload{shape: completenessNested, body: b}, nil
		}
	}
	var b completenessBody
	if err := json.Unmarshal(body, &b); err != nil {
		return completenessPayload{}, err
	}
	if shape := b.shape(root); shape != completenessUnknown {
		return completenessPayload{shape: shape, body: b}, nil
	}
	return completenessPayload{}, errUnrecognizedShape
}

func (b completenessBody) shape(obj map[string]json.RawMessage) completenessShape {
	if _, ok := b.score(); ok {
		return completenessFlat
	}
	if hasAny(obj, "sections", "missing_sections") {
		return completenessSections
	}
	return completenessUnknown
}

// canonical merges the reported sections against the expected list. Expected
// sections keep their order; sections the service reported beyond them are
// appended.
func (p completenessPayload) canonical(expected []string, chapter int) (CompletenessDetail, string) {
	reported := make(map[string]SectionStatus, len(p.body.Sections))
	var order []string
	for _, s := range p.body.Sections {
		key := strings.ToLower(s.Name)
		if _, dup := reported[key]; !dup {
			order = append(order, key)
		}
		reported[key] = s
	}
	missingHint := make(map[string]bool, len(p.body.MissingSections))
	for _, m := range p.body.MissingSections {
		missingHint[strings.ToLower(strings.TrimSpace(m))] = true
	}

	d := CompletenessDetail{Chapter: chapter, Sections: []SectionStatus{}, MissingSections: []string{}}
	used := make(map[string]bool, len(expected))
	for _, name := range expected {
		key := strings.ToLower(name)
		used[key] = true
		st, ok := reported[key]
		if !ok {
			// A bare missing_sections list implies the rest were found.
			inferred := len(p.body.Sections) == 0 && p.body.MissingSections != nil && !missingHint[key]
			st = SectionStatus{Name: name, Present: inferred}
			if inferred {
				st.Relevance = 100
			}
		} else {
			st.Name = name
		}
		d.Sections = append(d.Sections, st)
	}
	for _, key := range order {
		if used[key] {
			continue
		}
		d.Sections = append(d.Sections, reported[key])
	}

	var relevances []float64
	present := 0
	for _, s := range d.Sections {
		if s.Present {
			present++
			relevances = append(relevances, s.Relevance)
		} else {
			d.MissingSections = append(d.MissingSections, s.Name)
		}
	}

	if v, ok := p.body.score(); ok {
		d.CompletenessScore = round2(clampScore(scaleUnit(v.value())))
	} else if len(d.Sections) > 0 {
		d.CompletenessScore = round2(float64(present) / float64(len(d.Sections)) * 100)
	}
	if v, ok := firstFloat(p.body.RelevanceScore, p.body.Relevance); ok {
		d.RelevanceScore = round2(clampScore(scaleUnit(v.value())))
	} else if len(relevances) > 0 {
		d.RelevanceScore = round2(clampScore(mean(relevances)))
	}
	return d, firstString(p.body.Feedback, p.body.Message)
}

type CompletenessNormalizer struct {
	catalog sections.Provider
	log     *logger.Logger
}

func NewCompletenessNormalizer(catalog sections.Provider, log *logger.Logger) *CompletenessNormalizer {
	return &CompletenessNormalizer{catalog: catalog, log: log}
}

func (n *CompletenessNormalizer) expected(cc ChapterContext) []string {
	if len(cc.EnabledSections) > 0 {
		return cc.EnabledSections
	}
	if n.catalog == nil {
		return nil
	}
	return n.catalog.Sections(cc.Chapter)
}

func (n *CompletenessNormalizer) Normalize(raw RawResponse, cc ChapterContext) CategoryReport {
	body, reason := usableBody(raw)
	if reason != "" {
		return n.fallback(cc, reason)
	}
	payload, err := decodeCompleteness(body)
	if err != nil {
		if !isSyntaxError(err) {
			n.log.Warn("completeness payload rejected", "group_id", cc.GroupID, "chapter", cc.Chapter, "error", err)
			return n.fallback(cc, "malformed response: "+err.Error())
		}
		if score, ok := salvageCompletenessScore(body); ok {
			n.log.Warn("completeness response salvaged", "group_id", cc.GroupID, "chapter", cc.Chapter, "score", score, "error", err)
			return CategoryReport{
				Category: CategoryCompleteness,
				Score:    score,
				Feedback: salvagedFeedback,
				Success:  true,
				Degraded: true,
				Detail: CompletenessDetail{
					Chapter:           cc.Chapter,
					CompletenessScore: score,
					Sections:          []SectionStatus{},
					MissingSections:   []string{},
					Salvaged:          true,
				},
			}
		}
		n.log.Warn("completeness payload rejected", "group_id", cc.GroupID, "chapter", cc.Chapter, "error", err)
		return n.fallback(cc, "malformed response: "+err.Error())
	}

	detail, feedback := payload.canonical(n.expected(cc), cc.Chapter)
	if feedback == "" {
		feedback = completenessFeedback(detail)
	}
	return CategoryReport{
		Category: CategoryCompleteness,
		Score:    detail.CompletenessScore,
		Feedback: feedback,
		Success:  true,
		Detail:   detail,
	}
}

// fallback builds the report used when the service produced nothing usable.
// Every expected section is reported absent, except for chapter 3 where the
// historical behavior reports every section present with a full score. That
// case stays a failure and is logged.
func (n *CompletenessNormalizer) fallback(cc ChapterContext, reason string) CategoryReport {
	expected := n.expected(cc)
	d := CompletenessDetail{Chapter: cc.Chapter, Sections: make([]SectionStatus, 0, len(expected)), MissingSections: []string{}}

	if cc.Chapter == 3 {
		for _, name := range expected {
			d.Sections = append(d.Sections, SectionStatus{Name: name, Present: true, Relevance: 100})
		}
		d.CompletenessScore = 100
		d.RelevanceScore = 100
		n.log.Warn("completeness fallback reports chapter 3 as complete", "group_id", cc.GroupID, "reason", reason)
		rep := failureReport(CategoryCompleteness, reason, d)
		rep.Score = 100
		return rep
	}

	for _, name := range expected {
		d.Sections = append(d.Sections, SectionStatus{Name: name})
		d.MissingSections = append(d.MissingSections, name)
	}
	return failureReport(CategoryCompleteness, reason, d)
}

// salvageCompletenessScore prefers completeness_score over a bare score,
// wherever each appears in the body.
func salvageCompletenessScore(body []byte) (float64, bool) {
	var pick []byte
	for _, m := range salvageScorePattern.FindAllSubmatch(body, -1) {
		if string(m[1]) == "completeness_score" {
			pick = m[2]
			break
		}
		if pick == nil {
			pick = m[2]
		}
	}
	if pick == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(string(pick), 64)
	if err != nil {
		return 0, false
	}
	return round2(clampScore(v)), true
}

// isSyntaxError reports whether the body itself failed to parse, as opposed
// to parsing into something no known shape accepts.
func isSyntaxError(err error) bool {
	var se *json.SyntaxError
	return errors.As(err, &se) || errors.Is(err, io.ErrUnexpectedEOF)
}

func completenessFeedback(d CompletenessDetail) string {
	if len(d.Sections) == 0 {
		return fmt.Sprintf("Structural completeness score: %.1f%%.", d.CompletenessScore)
	}
	if len(d.MissingSections) == 0 {
		return fmt.Sprintf("All %d expected sections are present.", len(d.Sections))
	}
	return fmt.Sprintf("%d of %d expected sections present. Missing: %s.",
		len(d.Sections)-len(d.MissingSections), len(d.Sections), strings.Join(d.MissingSections, ", "))
}
