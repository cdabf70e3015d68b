// Package report turns forecast accuracy rows into a short written summary
// using a chat completion model.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/permitcast/internal/models"
)

const systemPrompt = `You are an analyst reviewing forecasts of monthly residential building permits in Italy.
Given accuracy metrics per forecasting source, write three to five plain sentences: which source
is most accurate, how large the typical error is in dwellings, and any caveat worth noting.
Do not invent numbers that are not in the table.`

var ErrNoRows = errors.New("no evaluation rows to narrate")

// Narrator writes summaries of evaluation reports.
type Narrator struct {
	client openai.Client
	model  string
}

// NewNarrator creates a narrator authenticated with apiKey.
func NewNarrator(apiKey, model string, opts ...option.RequestOption) (*Narrator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Narrator{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Narrate asks the model to summarise rows evaluated over horizon months.
func (n *Narrator) Narrate(ctx context.Context, rows []models.EvaluationRow, horizon int) (string, error) {
	if len(rows) == 0 {
		return "", ErrNoRows
	}

	log.Printf("report: narrating %d sources with %s", len(rows), n.model)

	resp, err := n.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(n.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(Prompt(rows, horizon)),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no completion returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty completion returned")
	}
	return text, nil
}

// Prompt renders the rows, best MAE first, as the user message.
func Prompt(rows []models.EvaluationRow, horizon int) string {
	ranked := make([]models.EvaluationRow, len(rows))
	copy(ranked, rows)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].MAE < ranked[j].MAE })

	var b strings.Builder
	if horizon > 0 {
		fmt.Fprintf(&b, "Evaluation over the first %d forecast months.\n", horizon)
	} else {
		b.WriteString("Evaluation over every forecast month.\n")
	}
	b.WriteString("source | n | MAE (dwellings) | MAPE % | SMAPE %\n")
	for _, r := range ranked {
		fmt.Fprintf(&b, "%s | %d | %.2f | %.2f | %.2f\n", r.Source, r.N, r.MAE, r.MAPE, r.SMAPE)
	}
	return b.String()
}
