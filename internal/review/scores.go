package review

import "math"

// FlagThreshold is the block probability at or above which content is
// counted as flagged.
const FlagThreshold = 50.0

// IssuesPer100Words normalizes an issue count by document length. With no
// usable word count the raw issue count is used.
func IssuesPer100Words(issues, words int) float64 {
	if issues <= 0 {
		return 0
	}
	if words <= 0 {
		return float64(issues)
	}
	return round2(float64(issues) / float64(words) * 100)
}

func SpellingScore(issues, words int) float64 {
	if issues <= 0 {
		return 100
	}
	per100 := IssuesPer100Words(issues, words)
	switch {
	case per100 <= 1:
		return 95
	case per100 <= 3:
		return 85
	case per100 <= 5:
		return 75
	default:
		return clampScore(100 - per100*10)
	}
}

func GrammarScore(issues, words int) float64 {
	if issues <= 0 {
		return 100
	}
	per100 := IssuesPer100Words(issues, words)
	switch {
	case per100 <= 0.5:
		return 95
	case per100 <= 2:
		return 85
	case per100 <= 4:
		return 75
	default:
		return clampScore(100 - per100*15)
	}
}

func CitationScore(correct, total int) float64 {
	if total <= 0 {
		return 0
	}
	if correct < 0 {
		correct = 0
	}
	if correct > total {
		correct = total
	}
	return clampScore(math.Round(float64(correct) / float64(total) * 100))
}

// OriginalityPercentage is the share of flagged blocks. When nothing is
// flagged but probabilities were reported, the mean probability is used so a
// uniformly borderline document does not read as 0%.
func OriginalityPercentage(probabilities []float64) (pct float64, flagged int, source string) {
	if len(probabilities) == 0 {
		return 0, 0, ScoreSourceBlocks
	}
	for _, p := range probabilities {
		if p >= FlagThreshold {
			flagged++
		}
	}
	if flagged == 0 {
		return clampScore(round2(mean(probabilities))), 0, ScoreSourceMeanProbability
	}
	return clampScore(round2(float64(flagged) / float64(len(probabilities)) * 100)), flagged, ScoreSourceBlocks
}

// LanguageScore combines the spelling and grammar scores into the category
// score.
func LanguageScore(spelling, grammar float64) float64 {
	return clampScore(round1((spelling + grammar) / 2))
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
