package constants

// QualityClass labels the OCR readability of a scanned page.
type QualityClass string

// Classification priority is handwritten first, then the confidence tiers.
const (
	QualityHandwritten  QualityClass = "handwritten"
	QualityExtremelyLow QualityClass = "extremely_low_quality"
	QualityLow          QualityClass = "low_quality"
	QualityGood         QualityClass = "good"
)

// Pipeline selects which extraction engine handles a document.
type Pipeline string

const (
	PipelineLocal Pipeline = "local"
	PipelineCloud Pipeline = "cloud"
)

// ExtractionMethod is the recorded provenance of a stored invoice.
type ExtractionMethod string

const (
	MethodLocal ExtractionMethod = "local"
	MethodCloud ExtractionMethod = "claude_vision"
)
