package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/joelkehle/chapter-review/internal/logger"
)

type originalityShape int

const (
	originalityUnknown originalityShape = iota
	// score fields at the root, blocks optional
	originalityFlat
	// the same fields under "originality", "result" or "analysis"
	originalityNested
	// a list of content blocks, each possibly carrying sub-blocks
	originalityBlocks
)

var originalityNestKeys = []string{"originality", "result", "analysis"}

type originalityBlockBody struct {
	Parent        *flexFloat `json:"parent"`
	Text          string     `json:"text"`
	Content       string     `json:"content"`
	Excerpt       string     `json:"excerpt"`
	Probability   *flexFloat `json:"probability"`
	AIProbability *flexFloat `json:"ai_probability"`
	Score         *flexFloat `json:"score"`

	SubBlocks []originalityBlockBody `json:"sub_blocks"`
	Sentences []originalityBlockBody `json:"sentences"`
	Children  []originalityBlockBody `json:"children"`
}

func (b originalityBlockBody) probability() (float64, bool) {
	v, ok := firstFloat(b.Probability, b.AIProbability, b.Score)
	if !ok {
		return 0, false
	}
	return v.value(), true
}

func (b originalityBlockBody) children() []originalityBlockBody {
	out := make([]originalityBlockBody, 0, len(b.SubBlocks)+len(b.Sentences)+len(b.Children))
	out = append(out, b.SubBlocks...)
	out = append(out, b.Sentences...)
	return append(out, b.Children...)
}

type originalitySummaryBody struct {
	Score           *flexFloat `json:"score"`
	Percentage      *flexFloat `json:"percentage"`
	AIPercentage    *flexFloat `json:"ai_percentage"`
	OverallScore    *flexFloat `json:"overall_percentage"`
	TotalBlocks     *flexFloat `json:"total_blocks"`
	FlaggedBlocks   *flexFloat `json:"flagged_blocks"`
	MeanProbability *flexFloat `json:"mean_probability"`
	Scale           string     `json:"probability_scale"`
	Feedback        string     `json:"feedback"`
	Message         string     `json:"message"`

	Blocks  []originalityBlockBody `json:"blocks"`
	Chunks  []originalityBlockBody `json:"chunks"`
	Results []originalityBlockBody `json:"results"`
}

func (s originalitySummaryBody) blockList() []originalityBlockBody {
	switch {
	case len(s.Blocks) > 0:
		return s.Blocks
	case len(s.Chunks) > 0:
		return s.Chunks
	default:
		return s.Results
	}
}

func (s originalitySummaryBody) score() (*flexFloat, bool) {
	return firstFloat(s.Score, s.Percentage, s.AIPercentage, s.OverallScore)
}

// servicePercentage reads the service score. The percentage fields are
// already 0-100; a bare "score" is ambiguous and follows the scale hint.
func (s originalitySummaryBody) servicePercentage() (float64, bool) {
	if v, ok := firstFloat(s.Percentage, s.AIPercentage, s.OverallScore); ok && !s.Score.ok() {
		return applyScale(v.value(), parseProbabilityScale(s.Scale), scalePercent), true
	}
	v, ok := s.score()
	if !ok {
		return 0, false
	}
	return applyScale(v.value(), parseProbabilityScale(s.Scale), scaleUnknown), true
}

type probabilityScale int

const (
	scaleUnknown probabilityScale = iota
	scalePercent
	scaleFraction
)

func parseProbabilityScale(hint string) probabilityScale {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "percent", "percentage", "0-100":
		return scalePercent
	case "unit", "fraction", "probability", "0-1":
		return scaleFraction
	default:
		return scaleUnknown
	}
}

// applyScale converts v to a percentage. An explicit hint wins over the
// field's own default; with neither, values in (0, 1] are read as fractions.
func applyScale(v float64, hint, fieldDefault probabilityScale) float64 {
	scale := hint
	if scale == scaleUnknown {
		scale = fieldDefault
	}
	switch scale {
	case scalePercent:
		return v
	case scaleFraction:
		return v * 100
	default:
		return scaleUnit(v)
	}
}

type originalityPayload struct {
	shape   originalityShape
	summary originalitySummaryBody
}

var errUnrecognizedShape = errors.New("unrecognized payload shape")

// decodeOriginality sorts a body into exactly one known shape. A nested
// object only counts when it carries the same keys the flat shape needs.
func decodeOriginality(body []byte) (originalityPayload, error) {
	if isJSONArray(body) {
		var blocks []originalityBlockBody
		if err := json.Unmarshal(body, &blocks); err != nil {
			return originalityPayload{}, err
		}
		return originalityPayload{shape: originalityBlocks, summary: originalitySummaryBody{Blocks: blocks}}, nil
	}
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return originalityPayload{}, err
	}
	for _, key := range originalityNestKeys {
		raw, ok := objectField(root, key)
		if !ok {
			continue
		}
		var s originalitySummaryBody
		if err := json.Unmarshal(raw, &s); err != nil {
			return originalityPayload{}, fmt.Errorf("%s: %w", key, err)
		}
		if s.shape() != originalityUnknown {
			return originalityPayload{shape: originalityNested, summary: s}, nil
		}
	}
	var s originalitySummaryBody
	if err := json.Unmarshal(body, &s); err != nil {
		return originalityPayload{}, err
	}
	if shape := s.shape(); shape != originalityUnknown {
		return originalityPayload{shape: shape, summary: s}, nil
	}
	return originalityPayload{}, errUnrecognizedShape
}

func (s originalitySummaryBody) shape() originalityShape {
	if _, ok := s.score(); ok {
		return originalityFlat
	}
	if len(s.blockList()) > 0 {
		return originalityBlocks
	}
	if s.MeanProbability.ok() {
		return originalityFlat
	}
	return originalityUnknown
}

// canonical maps every shape onto one detail. Blocks, when present, are
// authoritative; otherwise a service-computed score is used.
func (p originalityPayload) canonical() (OriginalityDetail, string) {
	feedback := firstString(p.summary.Feedback, p.summary.Message)
	if p.shape == originalityUnknown {
		return fallbackDetail(CategoryOriginality).(OriginalityDetail), feedback
	}

	blocks, probs := flattenBlocks(p.summary.blockList(), parseProbabilityScale(p.summary.Scale))
	if len(probs) > 0 {
		pct, flagged, source := OriginalityPercentage(probs)
		for i := range blocks {
			blocks[i].Flagged = blocks[i].Probability >= FlagThreshold
		}
		return OriginalityDetail{
			Percentage:      pct,
			TotalBlocks:     len(probs),
			FlaggedBlocks:   flagged,
			MeanProbability: round2(mean(probs)),
			ScoreSource:     source,
			Blocks:          blocks,
		}, feedback
	}

	d := OriginalityDetail{
		TotalBlocks:   p.summary.TotalBlocks.int(),
		FlaggedBlocks: p.summary.FlaggedBlocks.int(),
		Blocks:        []OriginalityBlock{},
	}
	if p.summary.MeanProbability.ok() {
		d.MeanProbability = round2(clampScore(p.summary.MeanProbability.value()))
	}
	if v, ok := p.summary.servicePercentage(); ok {
		d.Percentage = round2(clampScore(v))
		d.ScoreSource = ScoreSourceService
	} else if d.TotalBlocks > 0 {
		d.Percentage = round2(clampScore(float64(d.FlaggedBlocks) / float64(d.TotalBlocks) * 100))
		d.ScoreSource = ScoreSourceBlocks
	} else if p.summary.MeanProbability.ok() {
		d.Percentage = d.MeanProbability
		d.ScoreSource = ScoreSourceMeanProbability
	} else {
		d.ScoreSource = ScoreSourceService
	}
	return d, feedback
}

// flattenBlocks walks blocks depth-first. Blocks without a probability are
// containers and are not counted. The scale hint decides whether
// probabilities are fractions; without one, a list where every value is at
// most 1 is read as fractions.
func flattenBlocks(in []originalityBlockBody, scale probabilityScale) ([]OriginalityBlock, []float64) {
	var out []OriginalityBlock
	var walk func(list []originalityBlockBody, parent int)
	walk = func(list []originalityBlockBody, parent int) {
		for _, b := range list {
			idx := -1
			if p, ok := b.probability(); ok {
				idx = len(out)
				par := parent
				if b.Parent.ok() {
					par = int(b.Parent.value())
				}
				out = append(out, OriginalityBlock{
					Index:       idx,
					Parent:      par,
					Probability: p,
					Excerpt:     excerpt(firstString(b.Text, b.Content, b.Excerpt), 160),
				})
			}
			next := parent
			if idx >= 0 {
				next = idx
			}
			walk(b.children(), next)
		}
	}
	walk(in, -1)

	unit := scale == scaleFraction
	if scale == scaleUnknown {
		unit = len(out) > 0
		for _, b := range out {
			if b.Probability > 1 {
				unit = false
				break
			}
		}
	}
	probs := make([]float64, len(out))
	for i := range out {
		if unit {
			out[i].Probability *= 100
		}
		out[i].Probability = round2(clampScore(out[i].Probability))
		probs[i] = out[i].Probability
	}
	if out == nil {
		out = []OriginalityBlock{}
	}
	return out, probs
}

func scaleUnit(v float64) float64 {
	if v > 0 && v <= 1 {
		return v * 100
	}
	return v
}

type OriginalityNormalizer struct {
	log *logger.Logger
}

func NewOriginalityNormalizer(log *logger.Logger) *OriginalityNormalizer {
	return &OriginalityNormalizer{log: log}
}

func (n *OriginalityNormalizer) Normalize(raw RawResponse, cc ChapterContext) CategoryReport {
	body, reason := usableBody(raw)
	if reason != "" {
		return failureReport(CategoryOriginality, reason, fallbackDetail(CategoryOriginality))
	}
	payload, err := decodeOriginality(body)
	if err != nil {
		n.log.Warn("originality payload rejected", "group_id", cc.GroupID, "chapter", cc.Chapter, "error", err)
		return failureReport(CategoryOriginality, "malformed response: "+err.Error(), fallbackDetail(CategoryOriginality))
	}
	detail, feedback := payload.canonical()
	if feedback == "" {
		feedback = originalityFeedback(detail)
	}
	return CategoryReport{
		Category: CategoryOriginality,
		Score:    detail.Percentage,
		Feedback: feedback,
		Success:  true,
		Detail:   detail,
	}
}

func originalityFeedback(d OriginalityDetail) string {
	switch d.ScoreSource {
	case ScoreSourceMeanProbability:
		return fmt.Sprintf("No content block crossed the flag threshold; mean probability across analyzed content is %.1f%%.", d.Percentage)
	case ScoreSourceBlocks:
		return fmt.Sprintf("%.1f%% of analyzed content (%d of %d blocks) was flagged as potentially unoriginal.", d.Percentage, d.FlaggedBlocks, d.TotalBlocks)
	default:
		return fmt.Sprintf("Originality service reported %.1f%% potentially unoriginal content.", d.Percentage)
	}
}
