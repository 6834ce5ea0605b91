package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"AegisNet/internal/classifier"
	"AegisNet/internal/config"
	"AegisNet/internal/model"

	"github.com/sashabaranov/go-openai"
)

// AlerterAnalyzer implements the Analyzer interface using OpenAI's API
type AlerterAnalyzer struct {
	model  string
	client *openai.Client
}

var _ model.Analyzer = (*AlerterAnalyzer)(nil)

// NewAlerterAnalyzer creates a new instance of AlerterAnalyzer.
func NewAlerterAnalyzer(cfg config.AIConfig) (*AlerterAnalyzer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AI API key is not configured")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)

	// If a custom BaseURL is defined, override the default one
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &AlerterAnalyzer{
		model:  cfg.Model,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// verdictRules describes every label the classifier emits, in rule order.
var verdictRules = []struct{ label, meaning string }{
	{classifier.LabelPortScan, fmt.Sprintf("one source reached at least %d distinct destination ports inside the window", classifier.PortScanMinPorts)},
	{classifier.LabelHostSweep, fmt.Sprintf("one source reached at least %d distinct destination hosts inside the window", classifier.HostSweepMinHosts)},
	{classifier.LabelExfiltration, fmt.Sprintf("one source sent at least %.0f bytes inside the window", float64(classifier.ExfilMinBytesOut))},
	{classifier.LabelFlood, fmt.Sprintf("one source sent at least %d packets inside the window", classifier.FloodMinPackets)},
	{classifier.LabelAnomalous, "the flow's reconstruction error is high but no volumetric rule matched"},
}

func systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are a senior network security analyst reviewing verdicts from the AegisNet flow monitor. ")
	b.WriteString("Each verdict has a label, a confidence between 0 and 1, the source and destination, ")
	b.WriteString("the autoencoder anomaly score and the evidence. Rules are checked in this order and only the first match is reported:\n")
	for i, r := range verdictRules {
		fmt.Fprintf(&b, "%d. %s: %s.\n", i+1, r.label, r.meaning)
	}
	b.WriteString("A source reported as a port scan may also be sweeping hosts. Answer in concise markdown.")
	return b.String()
}

// AnalyzeVerdicts asks the model to assess a digest of threat verdicts.
func (a *AlerterAnalyzer) AnalyzeVerdicts(ctx context.Context, input string) (string, error) {
	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       a.model,
			Temperature: 0.2,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: systemPrompt(),
				},
				{
					Role: openai.ChatMessageRoleUser,
					Content: "Group related verdicts by source, rate how likely and how severe each threat is, " +
						"and recommend next steps for investigation.\n\n--- Verdicts ---\n" + input + "\n--- End of Verdicts ---",
				},
			},
		},
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("AI request timeout: %w", err)
		}
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("AI request canceled: %w", err)
		}
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI API returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}
