package model

import (
	"context"
)

// Analyzer defines the standard interface for an AI analyzer.
type Analyzer interface {
	// AnalyzeVerdicts receives a text digest of threat verdicts and returns the model's analysis.
	AnalyzeVerdicts(ctx context.Context, input string) (string, error)
}
