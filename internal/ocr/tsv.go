package ocr

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// TSV column indexes as emitted by tesseract.
const (
	tsvLevel  = 0
	tsvLeft   = 6
	tsvTop    = 7
	tsvWidth  = 8
	tsvHeight = 9
	tsvConf   = 10
	tsvText   = 11
	tsvCols   = 12
)

// tesseractTSV parses TSV output into normalized tokens plus page-level
// aggregate stats. Words below the configured confidence floor stay in the
// aggregate but not in the returned slice.
func (e *Extractor) tesseractTSV(ctx context.Context, path string) ([]Token, Aggregate, error) {
	args := append(e.baseArgs(path), "tsv")
	out, _, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return nil, Aggregate{}, fmt.Errorf("tesseract tsv: %w", err)
	}
	return e.parseTSV(string(out))
}

func (e *Extractor) parseTSV(raw string) ([]Token, Aggregate, error) {
	var (
		tokens   []Token
		pageW    float64
		pageH    float64
		sum      float64
		total    int
		lowCount int
	)

	lines := strings.Split(raw, "\n")
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < tsvCols {
			continue
		}
		level, err := strconv.Atoi(cols[tsvLevel])
		if err != nil {
			continue
		}
		if level == 1 {
			// page row carries the pixel dimensions used for normalization
			pageW, _ = strconv.ParseFloat(cols[tsvWidth], 64)
			pageH, _ = strconv.ParseFloat(cols[tsvHeight], 64)
			continue
		}
		if level != 5 {
			continue // only word rows carry text
		}
		text := strings.TrimSpace(cols[tsvText])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil || conf < 0 {
			continue
		}

		total++
		sum += conf
		if conf < e.cfg.MinConfidence {
			lowCount++
			continue
		}
		if pageW <= 0 || pageH <= 0 {
			continue
		}

		left, _ := strconv.ParseFloat(cols[tsvLeft], 64)
		top, _ := strconv.ParseFloat(cols[tsvTop], 64)
		width, _ := strconv.ParseFloat(cols[tsvWidth], 64)
		height, _ := strconv.ParseFloat(cols[tsvHeight], 64)

		tokens = append(tokens, Token{
			Text:       text,
			X:          round3(left / pageW),
			Y:          round3(top / pageH),
			W:          round3(width / pageW),
			H:          round3(height / pageH),
			Confidence: conf,
		})
	}

	agg := Aggregate{TokenCount: total}
	if total > 0 {
		agg.AverageConfidence = sum / float64(total)
		agg.LowConfidenceRatio = float64(lowCount) / float64(total)
	}
	agg.IsLowQuality = total == 0 || agg.AverageConfidence < 50 || agg.LowConfidenceRatio > 0.5
	return tokens, agg, nil
}

// gridYTolerance groups tokens into the same visual line when their
// normalized y positions are this close.
const gridYTolerance = 0.015

// BuildSpatialGrid renders tokens as one line per visual row, prefixed with
// the row's y position, e.g. `[0.120] "FACTURE" "N°123"`. The layout gives a
// text-only model enough geometry to tell columns and totals apart.
func BuildSpatialGrid(tokens []Token) string {
	if len(tokens) == 0 {
		return ""
	}

	sorted := make([]Token, len(tokens))
	copy(sorted, tokens)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y < sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var b strings.Builder
	lineY := sorted[0].Y
	var line []Token
	flush := func() {
		if len(line) == 0 {
			return
		}
		sort.Slice(line, func(i, j int) bool { return line[i].X < line[j].X })
		fmt.Fprintf(&b, "[%.3f]", lineY)
		for _, t := range line {
			fmt.Fprintf(&b, " %q", t.Text)
		}
		b.WriteByte('\n')
	}
	for _, t := range sorted {
		if t.Y-lineY > gridYTolerance {
			flush()
			line = line[:0]
			lineY = t.Y
		}
		line = append(line, t)
	}
	flush()
	return strings.TrimRight(b.String(), "\n")
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
