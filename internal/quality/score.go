package quality

import (
	"math"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/ocr"
)

// confidenceScore folds the page signals into a single 0-1 routing score.
// A page with no recognized words scores exactly 0.
func (a *Analyzer) confidenceScore(rep Report, tokens []ocr.Token, agg ocr.Aggregate) float64 {
	if agg.TokenCount == 0 {
		return 0
	}

	score := agg.AverageConfidence / 100

	confs := make([]float64, 0, len(tokens))
	for _, t := range tokens {
		confs = append(confs, t.Confidence)
	}
	if variance(confs) > 500 {
		score *= 0.8
	}
	if rep.Handwritten {
		score *= 0.5
	}
	if rep.BlurScore < a.cfg.BlurThreshold {
		score *= 0.9
	}
	if rep.ContrastScore < a.cfg.ContrastThreshold {
		score *= 0.9
	}

	score = math.Max(0, math.Min(1, score))
	return math.Round(score*1000) / 1000
}

// route picks the pipeline: local only for confidently machine-printed pages.
func (a *Analyzer) route(rep Report) constants.Pipeline {
	if rep.Handwritten {
		return constants.PipelineCloud
	}
	if rep.Score >= a.cfg.ConfidenceThreshold/100 {
		return constants.PipelineLocal
	}
	return constants.PipelineCloud
}
