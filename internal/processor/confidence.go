package processor

// ConfidenceLevel grades a recognition confidence for display
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "High"
	ConfidenceMedium ConfidenceLevel = "Medium"
	ConfidenceLow    ConfidenceLevel = "Low"
)

// GradeConfidence maps a 0-100 confidence to a level
func GradeConfidence(confidence float64) ConfidenceLevel {
	switch {
	case confidence >= 80:
		return ConfidenceHigh
	case confidence >= 60:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

var (
	lowConfidenceTips = []string{
		"Try writing more clearly with darker strokes",
		"Ensure good lighting when taking photos",
		"Use a plain background for better contrast",
		"Write larger text for better recognition",
		"Avoid cursive writing if possible",
	}

	mediumConfidenceTips = []string{
		"Good result! For even better accuracy:",
		"Use darker ink or pencil",
		"Write on lined paper for better alignment",
		"Ensure the image is not blurry",
	}

	highConfidenceTips = []string{
		"Excellent recognition quality!",
	}
)

// AccuracyTips returns suggestions for improving recognition at this confidence
func AccuracyTips(confidence float64) []string {
	var tips []string
	switch {
	case confidence < 60:
		tips = lowConfidenceTips
	case confidence < 80:
		tips = mediumConfidenceTips
	default:
		tips = highConfidenceTips
	}
	return append([]string(nil), tips...)
}
