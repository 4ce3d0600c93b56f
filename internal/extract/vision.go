package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

const visionSystemPrompt = "You are an ESG materiality assessment specialist. " +
	"Your task is to read a single page of a sustainability report and extract the materiality issues it identifies. " +
	"You must output your response as a valid JSON object."

const visionUserPrompt = `Analyze the provided report page and extract every materiality issue it names.

Follow these rules precisely:
1. Only extract topics the page presents as material issues: entries of a materiality matrix, an issue pool table, or a prioritized issue list.
2. Classify each issue as "E" (environmental), "S" (social), or "G" (governance). Use "Unknown" if the page gives no basis for a classification.
3. Set "confidence" between 0.0 and 1.0 according to how explicitly the page marks the topic as material.
4. Keep "issue_name" short, in the page's own language.

The output MUST be a single valid JSON object of this exact shape, with no text before or after it:
{
  "materiality_issues": [
    {
      "issue_name": "기후변화 대응",
      "category": "E",
      "description": "one sentence of context from the page",
      "confidence": 0.9
    }
  ]
}
If the page contains no materiality issues, return {"materiality_issues": []}.`

// VisionPromptText returns the full prompt text sent with every page, so
// callers can estimate the token cost of a call before making it.
func VisionPromptText() string {
	return visionSystemPrompt + "\n" + visionUserPrompt
}

// Model refusals come back as prose instead of JSON; they fail the page.
var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

// ErrMalformedVision marks a response that could not be parsed into
// candidate issues.
var ErrMalformedVision = fmt.Errorf("malformed vision response")

// VertexVision implements the vision contract with a Gemini model on
// Vertex AI, configured for deterministic JSON output.
type VertexVision struct {
	model      *genai.GenerativeModel
	modelName  string
	baseClient *genai.Client
	logger     *slog.Logger
}

// NewVertexVision creates a vision analyzer for the given project, region
// and model name. Extra client options are passed through, e.g. explicit
// credentials.
func NewVertexVision(ctx context.Context, projectID, region, modelName string, logger *slog.Logger, opts ...option.ClientOption) (*VertexVision, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexVision: projectID and region cannot be empty")
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	baseClient, err := genai.NewClient(ctx, projectID, region, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(visionSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexVision{
		model:      model,
		modelName:  modelName,
		baseClient: baseClient,
		logger:     logger,
	}, nil
}

// ModelName reports the configured model for cost accounting.
func (v *VertexVision) ModelName() string { return v.modelName }

func (v *VertexVision) Close() error {
	if v.baseClient != nil {
		return v.baseClient.Close()
	}
	return nil
}

func (v *VertexVision) AnalyzePage(ctx context.Context, pagePath string, pageNumber int) (*VisionResult, error) {
	data, err := os.ReadFile(pagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read page artifact: %w", err)
	}

	mimeType := "application/pdf"
	switch {
	case strings.HasSuffix(pagePath, ".png"):
		mimeType = "image/png"
	case strings.HasSuffix(pagePath, ".jpg"), strings.HasSuffix(pagePath, ".jpeg"):
		mimeType = "image/jpeg"
	}

	resp, err := v.model.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(visionUserPrompt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	result := &VisionResult{Model: v.modelName}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	raw := collectText(resp)
	candidates, err := parseCandidates(raw)
	if err != nil {
		v.logger.Warn("vision response could not be parsed",
			"page", pageNumber,
			"error", err,
			"response", truncate(raw, 512),
		)
		return result, fmt.Errorf("%w: page %d: %v", ErrMalformedVision, pageNumber, err)
	}
	result.Candidates = candidates
	return result, nil
}

// collectText concatenates the text parts of the first candidate.
func collectText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// parseCandidates strips code fences the model sometimes adds despite the
// JSON response mode, rejects refusals, and unmarshals the issue list.
func parseCandidates(raw string) ([]CandidateIssue, error) {
	content := strings.TrimSpace(raw)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if content == "" {
		return nil, fmt.Errorf("empty response")
	}
	lower := strings.ToLower(content)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return nil, fmt.Errorf("response indicates refusal")
		}
	}

	var payload struct {
		MaterialityIssues []CandidateIssue `json:"materiality_issues"`
	}
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	issues := payload.MaterialityIssues[:0:0]
	for _, c := range payload.MaterialityIssues {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		if c.Confidence < 0 {
			c.Confidence = 0
		}
		if c.Confidence > 1 {
			c.Confidence = 1
		}
		issues = append(issues, c)
	}
	return issues, nil
}
