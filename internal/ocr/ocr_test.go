package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner answers tesseract invocations with canned output. The TSV mode
// is recognized by the trailing "tsv" config argument.
type fakeRunner struct {
	tsv   string
	text  string
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return nil, nil, f.err
	}
	if len(args) > 0 && args[len(args)-1] == "tsv" {
		return []byte(f.tsv), nil, nil
	}
	return []byte(f.text), nil, nil
}

const tsvHeader = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext"

func tsvRow(level int, left, top, width, height int, conf float64, text string) string {
	return fmt.Sprintf("%d\t1\t1\t1\t1\t1\t%d\t%d\t%d\t%d\t%g\t%s", level, left, top, width, height, conf, text)
}

func tsvDoc(rows ...string) string {
	return tsvHeader + "\n" + strings.Join(rows, "\n") + "\n"
}

func newTestExtractor(r Runner) *Extractor {
	return NewExtractor(Config{}, nil).WithRunner(r)
}

func TestParseTSVNormalizesCoordinates(t *testing.T) {
	e := newTestExtractor(nil)
	raw := tsvDoc(
		tsvRow(1, 0, 0, 2000, 1000, -1, ""),
		tsvRow(5, 100, 250, 333, 40, 96.5, "FACTURE"),
		tsvRow(5, 500, 250, 200, 40, 91.0, "N°42"),
	)

	tokens, agg, err := e.parseTSV(raw)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, "FACTURE", tokens[0].Text)
	assert.Equal(t, 0.05, tokens[0].X)
	assert.Equal(t, 0.25, tokens[0].Y)
	assert.Equal(t, 0.167, tokens[0].W) // 333/2000 rounded to 3 decimals
	assert.Equal(t, 0.04, tokens[0].H)
	assert.Equal(t, 96.5, tokens[0].Confidence)

	assert.Equal(t, 2, agg.TokenCount)
	assert.InDelta(t, 93.75, agg.AverageConfidence, 0.001)
	assert.Zero(t, agg.LowConfidenceRatio)
	assert.False(t, agg.IsLowQuality)
}

func TestParseTSVSkipsNonWordRows(t *testing.T) {
	e := newTestExtractor(nil)
	raw := tsvDoc(
		tsvRow(1, 0, 0, 1000, 1000, -1, ""),
		tsvRow(2, 0, 0, 1000, 1000, -1, ""),
		tsvRow(3, 0, 0, 1000, 500, -1, ""),
		tsvRow(4, 0, 100, 900, 50, -1, ""),
		tsvRow(5, 10, 100, 80, 40, 88, "Total"),
		"garbage line without tabs",
		tsvRow(5, 100, 100, 80, 40, -1, "ghost"), // conf -1 word is dropped entirely
		tsvRow(5, 200, 100, 80, 40, 90, "  "),    // whitespace-only text
	)

	tokens, agg, err := e.parseTSV(raw)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "Total", tokens[0].Text)
	assert.Equal(t, 1, agg.TokenCount)
}

func TestParseTSVLowConfidenceCountedNotListed(t *testing.T) {
	e := newTestExtractor(nil)
	raw := tsvDoc(
		tsvRow(1, 0, 0, 1000, 1000, -1, ""),
		tsvRow(5, 10, 100, 80, 40, 95, "clean"),
		tsvRow(5, 100, 100, 80, 40, 12, "smudge"), // below the default floor of 30
	)

	tokens, agg, err := e.parseTSV(raw)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "clean", tokens[0].Text)
	assert.Equal(t, 2, agg.TokenCount)
	assert.InDelta(t, 53.5, agg.AverageConfidence, 0.001)
	assert.InDelta(t, 0.5, agg.LowConfidenceRatio, 0.001)
}

func TestParseTSVLowQualityFlags(t *testing.T) {
	e := newTestExtractor(nil)

	_, agg, err := e.parseTSV(tsvDoc(tsvRow(1, 0, 0, 1000, 1000, -1, "")))
	require.NoError(t, err)
	assert.True(t, agg.IsLowQuality, "empty page")

	raw := tsvDoc(
		tsvRow(1, 0, 0, 1000, 1000, -1, ""),
		tsvRow(5, 10, 100, 80, 40, 40, "faint"),
		tsvRow(5, 100, 100, 80, 40, 45, "words"),
	)
	_, agg, err = e.parseTSV(raw)
	require.NoError(t, err)
	assert.True(t, agg.IsLowQuality, "average confidence under 50")

	raw = tsvDoc(
		tsvRow(1, 0, 0, 1000, 1000, -1, ""),
		tsvRow(5, 10, 100, 80, 40, 95, "one"),
		tsvRow(5, 100, 100, 80, 40, 10, "bad"),
		tsvRow(5, 200, 100, 80, 40, 12, "worse"),
	)
	_, agg, err = e.parseTSV(raw)
	require.NoError(t, err)
	assert.True(t, agg.IsLowQuality, "majority of words below floor")
}

func TestParseTSVNoPageDimensionsYieldsNoTokens(t *testing.T) {
	e := newTestExtractor(nil)
	raw := tsvDoc(tsvRow(5, 10, 100, 80, 40, 95, "orphan"))

	tokens, agg, err := e.parseTSV(raw)
	require.NoError(t, err)
	assert.Empty(t, tokens)
	assert.Equal(t, 1, agg.TokenCount)
}

func TestRecognizePageRunsBothModes(t *testing.T) {
	r := &fakeRunner{
		tsv: tsvDoc(
			tsvRow(1, 0, 0, 1000, 1000, -1, ""),
			tsvRow(5, 100, 100, 200, 40, 92, "FACTURE"),
		),
		text: "FACTURE\r\n\r\n\r\n\r\nmontant\t\tdu",
	}
	e := newTestExtractor(r)

	res, err := e.RecognizePage(context.Background(), "/scans/p1.png")
	require.NoError(t, err)

	assert.Equal(t, "FACTURE\n\nmontant du", res.Text)
	require.Len(t, res.Tokens, 1)
	assert.Contains(t, res.SpatialGrid, `[0.100] "FACTURE"`)

	require.Len(t, r.calls, 2)
	assert.Equal(t, []string{"tesseract", "/scans/p1.png", "stdout", "-l", "fra+eng", "--psm", "6", "tsv"}, r.calls[0])
	assert.Equal(t, []string{"tesseract", "/scans/p1.png", "stdout", "-l", "fra+eng", "--psm", "6"}, r.calls[1])
}

func TestRecognizePagePropagatesRunnerError(t *testing.T) {
	e := newTestExtractor(&fakeRunner{err: errors.New("exit status 1")})

	_, err := e.RecognizePage(context.Background(), "/scans/p1.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract")
}

func TestBuildSpatialGridGroupsRows(t *testing.T) {
	tokens := []Token{
		{Text: "100,00", X: 0.80, Y: 0.512},
		{Text: "Total", X: 0.10, Y: 0.505}, // within tolerance of 0.512
		{Text: "FACTURE", X: 0.10, Y: 0.100},
		{Text: "TVA", X: 0.10, Y: 0.550},
	}

	grid := BuildSpatialGrid(tokens)
	lines := strings.Split(grid, "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `[0.100] "FACTURE"`, lines[0])
	assert.Equal(t, `[0.505] "Total" "100,00"`, lines[1])
	assert.Equal(t, `[0.550] "TVA"`, lines[2])
}

func TestBuildSpatialGridEmpty(t *testing.T) {
	assert.Equal(t, "", BuildSpatialGrid(nil))
}

func TestNormalize(t *testing.T) {
	in := "FACTURE  N°42\r\n____\r\n\r\n\r\n\r\nTotal\tTTC   120,00  \n"
	assert.Equal(t, "FACTURE N°42\n\nTotal TTC 120,00", Normalize(in))
	assert.Equal(t, "", Normalize(""))
}

// pdfRunner pretends to be pdftoppm and drops page files next to the prefix.
type pdfRunner struct {
	pages int
}

func (p *pdfRunner) Run(_ context.Context, _ string, args ...string) ([]byte, []byte, error) {
	prefix := args[len(args)-1]
	for i := 1; i <= p.pages; i++ {
		if err := os.WriteFile(fmt.Sprintf("%s-%d.png", prefix, i), []byte("png"), 0o644); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func TestRenderPDFPagesNamesAndOrders(t *testing.T) {
	dir := t.TempDir()
	e := newTestExtractor(&pdfRunner{pages: 3})

	pages, err := e.RenderPDFPages(context.Background(), "/in/doc.pdf", dir, "job42")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, pg := range pages {
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("job42_page_%d.png", i+1)), pg)
		_, statErr := os.Stat(pg)
		assert.NoError(t, statErr)
	}
}

func TestRenderPDFPagesHonorsMaxPages(t *testing.T) {
	dir := t.TempDir()
	e := NewExtractor(Config{MaxPages: 2}, nil).WithRunner(&pdfRunner{pages: 5})

	pages, err := e.RenderPDFPages(context.Background(), "/in/doc.pdf", dir, "job42")
	require.NoError(t, err)
	require.Len(t, pages, 2)

	leftovers, _ := filepath.Glob(filepath.Join(dir, "*-*.png"))
	assert.Empty(t, leftovers, "overflow pages should be removed")
}

func TestRenderPDFPagesEmptyOutput(t *testing.T) {
	e := newTestExtractor(&pdfRunner{pages: 0})

	_, err := e.RenderPDFPages(context.Background(), "/in/doc.pdf", t.TempDir(), "job42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pages")
}
