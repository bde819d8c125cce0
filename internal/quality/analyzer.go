// Package quality grades scanned pages before extraction: how sharp the scan
// is, whether it looks handwritten, and which extraction pipeline should get
// the document.
package quality

import (
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"os"

	_ "golang.org/x/image/tiff"

	"github.com/invoicator-app/invoicator/constants"
	"github.com/invoicator-app/invoicator/internal/ocr"
)

type Config struct {
	// ConfidenceThreshold is on the 0-100 OCR scale; documents scoring below
	// threshold/100 are routed to the cloud pipeline.
	ConfidenceThreshold float64
	BlurThreshold       float64
	ContrastThreshold   float64
}

// Report is the full quality assessment for one page.
type Report struct {
	Class          constants.QualityClass `json:"quality_class"`
	Handwritten    bool                   `json:"is_handwritten"`
	BlurScore      float64                `json:"blur_score"`     // 0-100, higher is sharper
	ContrastScore  float64                `json:"contrast_score"` // 0-100
	OCRConfidence  float64                `json:"ocr_confidence"` // 0-100 mean over all words
	TokenCount     int                    `json:"token_count"`
	Score          float64                `json:"confidence_score"` // 0-1 routing score
	Pipeline       constants.Pipeline     `json:"suggested_pipeline"`
	Recommendation string                 `json:"recommendation"`
}

type Analyzer struct {
	cfg    Config
	logger *slog.Logger
}

func NewAnalyzer(cfg Config, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 80
	}
	if cfg.BlurThreshold <= 0 {
		cfg.BlurThreshold = 20
	}
	if cfg.ContrastThreshold <= 0 {
		cfg.ContrastThreshold = 30
	}
	return &Analyzer{cfg: cfg, logger: logger}
}

// LoadImage decodes a page image from disk (png, jpeg or tiff).
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// Analyze grades one page. img may be nil when the page image could not be
// decoded; the image-based scores then default to neutral values.
func (a *Analyzer) Analyze(img image.Image, tokens []ocr.Token, agg ocr.Aggregate) Report {
	rep := Report{
		BlurScore:     50,
		ContrastScore: 50,
		OCRConfidence: agg.AverageConfidence,
		TokenCount:    agg.TokenCount,
	}
	if img != nil {
		gray := toGray(img)
		rep.BlurScore = blurScore(gray)
		rep.ContrastScore = contrastScore(gray)
	}
	rep.Handwritten = looksHandwritten(tokens, agg)
	rep.Class = a.classify(rep, agg)
	rep.Score = a.confidenceScore(rep, tokens, agg)
	rep.Pipeline = a.route(rep)
	rep.Recommendation = recommend(rep)

	a.logger.Debug("quality.page_analyzed",
		"class", rep.Class,
		"handwritten", rep.Handwritten,
		"blur", rep.BlurScore,
		"contrast", rep.ContrastScore,
		"score", rep.Score,
		"pipeline", rep.Pipeline,
	)
	return rep
}

// Classification priority: handwriting wins over everything, then the
// confidence tiers.
func (a *Analyzer) classify(rep Report, agg ocr.Aggregate) constants.QualityClass {
	switch {
	case rep.Handwritten:
		return constants.QualityHandwritten
	case agg.AverageConfidence < 25 || agg.TokenCount < 3:
		return constants.QualityExtremelyLow
	case agg.AverageConfidence < a.cfg.ConfidenceThreshold:
		return constants.QualityLow
	default:
		return constants.QualityGood
	}
}

// looksHandwritten flags pages whose glyph geometry is too irregular for
// print: word heights and baselines vary wildly, or the OCR engine keeps
// guessing (a large share of words in the 30-60 confidence band).
func looksHandwritten(tokens []ocr.Token, agg ocr.Aggregate) bool {
	if agg.TokenCount < 5 {
		return false
	}

	var medium int
	heights := make([]float64, 0, len(tokens))
	ys := make([]float64, 0, len(tokens))
	for _, t := range tokens {
		heights = append(heights, t.H)
		ys = append(ys, t.Y)
		if t.Confidence >= 30 && t.Confidence <= 60 {
			medium++
		}
	}
	if agg.TokenCount > 0 && float64(medium)/float64(agg.TokenCount) > 0.5 {
		return true
	}
	if len(tokens) < 5 {
		return false
	}
	return variance(heights) > 0.001 && variance(ys) > 0.15
}

// blurScore is the variance of the Laplacian response, normalized to 0-100.
// Sharp edges produce high variance; a blurry scan flattens it.
func blurScore(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	var sum, sumSq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			up := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y-1).Y)
			down := float64(g.GrayAt(b.Min.X+x, b.Min.Y+y+1).Y)
			left := float64(g.GrayAt(b.Min.X+x-1, b.Min.Y+y).Y)
			right := float64(g.GrayAt(b.Min.X+x+1, b.Min.Y+y).Y)
			lap := up + down + left + right - 4*c
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	v := sumSq/float64(n) - mean*mean
	return math.Min(100, v/100)
}

// contrastScore is the grayscale standard deviation mapped to 0-100, where
// a stddev of half the intensity range already counts as full contrast.
func contrastScore(g *image.Gray) float64 {
	b := g.Bounds()
	var sum, sumSq float64
	n := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(g.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	std := math.Sqrt(math.Max(0, sumSq/float64(n)-mean*mean))
	pct := std / 2.55 // stddev as a percentage of the 255 range
	return math.Min(100, pct*100/50)
}

func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return g
}

func variance(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return sq / float64(len(vals))
}

func recommend(rep Report) string {
	switch rep.Class {
	case constants.QualityHandwritten:
		return "document appears handwritten; cloud extraction recommended"
	case constants.QualityExtremelyLow:
		return "scan is barely readable; rescan at higher resolution or use cloud extraction"
	case constants.QualityLow:
		return "scan quality is below the local extraction threshold; cloud extraction recommended"
	default:
		return "scan quality is good; local extraction is reliable"
	}
}
