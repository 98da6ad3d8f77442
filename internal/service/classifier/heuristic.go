package classifier

import (
	"context"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
)

// Heuristic is the local keyword classifier; it never fails.
type Heuristic struct{}

// ClassifyText implements TextClassifier.
func (Heuristic) ClassifyText(_ context.Context, text string) (emotion.Reading, error) {
	return emotion.Analyze(text).Reading(), nil
}

// Fallback tries primary first and answers from secondary when it fails.
type Fallback struct {
	Primary   TextClassifier
	Secondary TextClassifier
}

// ClassifyText implements TextClassifier.
func (f Fallback) ClassifyText(ctx context.Context, text string) (emotion.Reading, error) {
	reading, err := f.Primary.ClassifyText(ctx, text)
	if err == nil {
		return reading, nil
	}
	if f.Secondary == nil {
		return emotion.Reading{}, err
	}
	return f.Secondary.ClassifyText(ctx, text)
}
