package review

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joelkehle/chapter-review/internal/logger"
)

type citationShape int

const (
	citationUnknown citationShape = iota
	citationFlat
	citationNested
	// a bare "citations" list; counts come from the items
	citationList
)

var citationNestKeys = []string{"citation_analysis", "citations_report", "result"}

const noCitationsFeedback = "No citations found in this chapter."

type citationItemBody struct {
	Text     string    `json:"text"`
	Citation string    `json:"citation"`
	Raw      string    `json:"raw"`
	Valid    *flexBool `json:"valid"`
	IsValid  *flexBool `json:"is_valid"`
	Correct  *flexBool `json:"correct"`
	Status   string    `json:"status"`
	Issue    string    `json:"issue"`
	Error    string    `json:"error"`
}

func (c citationItemBody) entry() CitationEntry {
	e := CitationEntry{
		Text:  excerpt(firstString(c.Text, c.Citation, c.Raw), 240),
		Issue: firstString(c.Issue, c.Error),
	}
	if v, ok := firstBool(c.Valid, c.IsValid, c.Correct); ok {
		e.Valid = v
	} else if s := strings.ToLower(strings.TrimSpace(c.Status)); s != "" {
		e.Valid = s == "valid" || s == "correct" || s == "ok"
	} else {
		e.Valid = e.Issue == ""
	}
	return e
}

type citationBody struct {
	TotalCitations     *flexFloat         `json:"total_citations"`
	Total              *flexFloat         `json:"total"`
	CorrectCitations   *flexFloat         `json:"correct_citations"`
	ValidCitations     *flexFloat         `json:"valid_citations"`
	IncorrectCitations *flexFloat         `json:"incorrect_citations"`
	InvalidCitations   *flexFloat         `json:"invalid_citations"`
	Style              string             `json:"style"`
	CitationStyle      string             `json:"citation_style"`
	Feedback           string             `json:"feedback"`
	Message            string             `json:"message"`
	Citations          []citationItemBody `json:"citations"`
}

type citationPayload struct {
	shape citationShape
	body  citationBody
}

func decodeCitation(body []byte) (citationPayload, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return citationPayload{}, err
	}
	for _, key := range citationNestKeys {
		raw, ok := objectField(root, key)
		if !ok {
			continue
		}
		var nested map[string]json.RawMessage
		var b citationBody
		if err := json.Unmarshal(raw, &nested); err != nil {
			return citationPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if err := json.Unmarshal(raw, &b); err != nil {
			return citationPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if b.shape(nested) != citationUnknown {
			return citationPayload{shape: citationNested, body: b}, nil
		}
	}
	var b citationBody
	if err := json.Unmarshal(body, &b); err != nil {
		return citationPayload{}, err
	}
	if shape := b.shape(root); shape != citationUnknown {
		return citationPayload{shape: shape, body: b}, nil
	}
	return citationPayload{}, errUnrecognizedShape
}

func (b citationBody) shape(obj map[string]json.RawMessage) citationShape {
	if _, ok := firstFloat(b.TotalCitations, b.Total); ok {
		return citationFlat
	}
	if hasAny(obj, "citations") {
		return citationList
	}
	return citationUnknown
}

func (p citationPayload) canonical() (CitationDetail, string) {
	d := CitationDetail{
		Style:     firstString(p.body.Style, p.body.CitationStyle),
		Citations: make([]CitationEntry, 0, len(p.body.Citations)),
	}
	validItems := 0
	for _, c := range p.body.Citations {
		e := c.entry()
		if e.Valid {
			validItems++
		}
		d.Citations = append(d.Citations, e)
	}

	if v, ok := firstFloat(p.body.TotalCitations, p.body.Total); ok {
		d.TotalCitations = v.int()
	} else {
		d.TotalCitations = len(d.Citations)
	}

	incorrect, hasIncorrect := firstFloat(p.body.IncorrectCitations, p.body.InvalidCitations)
	switch correct, ok := firstFloat(p.body.CorrectCitations, p.body.ValidCitations); {
	case ok:
		d.CorrectCitations = correct.int()
	case hasIncorrect:
		d.CorrectCitations = d.TotalCitations - incorrect.int()
	default:
		d.CorrectCitations = validItems
	}
	if d.CorrectCitations < 0 {
		d.CorrectCitations = 0
	}
	if d.CorrectCitations > d.TotalCitations {
		d.CorrectCitations = d.TotalCitations
	}
	d.IncorrectCitations = d.TotalCitations - d.CorrectCitations
	return d, firstString(p.body.Feedback, p.body.Message)
}

type CitationNormalizer struct {
	log *logger.Logger
}

func NewCitationNormalizer(log *logger.Logger) *CitationNormalizer {
	return &CitationNormalizer{log: log}
}

func (n *CitationNormalizer) Normalize(raw RawResponse, cc ChapterContext) CategoryReport {
	body, reason := usableBody(raw)
	if reason != "" {
		return failureReport(CategoryCitation, reason, fallbackDetail(CategoryCitation))
	}
	payload, err := decodeCitation(body)
	if err != nil {
		n.log.Warn("citation payload rejected", "group_id", cc.GroupID, "chapter", cc.Chapter, "error", err)
		return failureReport(CategoryCitation, "malformed response: "+err.Error(), fallbackDetail(CategoryCitation))
	}
	detail, feedback := payload.canonical()
	if detail.TotalCitations == 0 {
		// Zero citations is a real result, not an outage.
		feedback = noCitationsFeedback
	} else if feedback == "" {
		feedback = fmt.Sprintf("%d of %d citations are correctly formatted.", detail.CorrectCitations, detail.TotalCitations)
	}
	return CategoryReport{
		Category: CategoryCitation,
		Score:    CitationScore(detail.CorrectCitations, detail.TotalCitations),
		Feedback: feedback,
		Success:  true,
		Detail:   detail,
	}
}
