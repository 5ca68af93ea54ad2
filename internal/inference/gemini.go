// Package inference implements the sentiment provider on the Gemini REST
// API. One call produces one complete SentimentResult: the three horizon
// assessments, the driver list and citations, via schema-enforced JSON
// output. The raw HTTP layer is kept deliberately thin so upstream status
// codes stay visible to the error classifier.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/fwintner/marketpulse/internal/apperrors"
	"github.com/fwintner/marketpulse/internal/domain"
)

// Config carries the upstream connection settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client calls the Gemini generateContent endpoint.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	clock      clockwork.Clock
}

var _ domain.SentimentProvider = (*Client)(nil)

// NewClient builds a sentiment provider from configuration.
func NewClient(cfg Config, clock clockwork.Clock) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		clock: clock,
	}
}

// --- Wire types ---

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64         `json:"temperature"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content           content            `json:"content"`
	FinishReason      string             `json:"finishReason"`
	GroundingMetadata *groundingMetadata `json:"groundingMetadata,omitempty"`
}

type groundingMetadata struct {
	GroundingChunks []groundingChunk `json:"groundingChunks"`
}

type groundingChunk struct {
	Web *webSource `json:"web,omitempty"`
}

type webSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// sentimentPayload is the schema-enforced model output.
type sentimentPayload struct {
	Historical horizonPayload    `json:"historical"`
	Current    horizonPayload    `json:"current"`
	LongTerm   horizonPayload    `json:"long_term"`
	Drivers    []driverPayload   `json:"drivers"`
	Citations  []citationPayload `json:"citations"`
}

type horizonPayload struct {
	Score   float64 `json:"score"`
	Label   string  `json:"label"`
	Summary string  `json:"summary"`
}

type driverPayload struct {
	Factor      string `json:"factor"`
	Impact      string `json:"impact"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

type citationPayload struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// --- Provider ---

// FetchSentiment runs one full analysis for the given subject under the
// given context. Every failure is returned already classified.
func (c *Client) FetchSentiment(ctx context.Context, subject domain.Subject, analysisCtx domain.AnalysisContext) (*domain.SentimentResult, error) {
	reqBody := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt}}},
		Contents: []content{
			{Role: "user", Parts: []part{{Text: userPrompt(subject, analysisCtx)}}},
		},
		GenerationConfig: &generationConfig{
			Temperature:      0.2,
			ResponseMimeType: "application/json",
			ResponseSchema:   json.RawMessage(sentimentSchema),
		},
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.UnclassifiedError("marshal request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.UnclassifiedError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.NetworkError("inference request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.NetworkError("read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.FromStatusCode(resp.StatusCode, bodySnippet(raw))
	}

	var geminiResp generateResponse
	if err := json.Unmarshal(raw, &geminiResp); err != nil {
		return nil, apperrors.UnclassifiedError("decode response envelope", err)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, apperrors.UnclassifiedError("response contained no candidates", nil)
	}

	cand := geminiResp.Candidates[0]
	text := candidateText(cand)
	if text == "" {
		return nil, apperrors.UnclassifiedError(fmt.Sprintf("empty candidate (finishReason=%s)", cand.FinishReason), nil)
	}

	var payload sentimentPayload
	if err := json.Unmarshal([]byte(extractJSON(text)), &payload); err != nil {
		return nil, apperrors.UnclassifiedError("malformed sentiment payload", err)
	}

	result := c.buildResult(subject, analysisCtx, payload)
	mergeGroundingCitations(result, cand.GroundingMetadata)
	return result, nil
}

func (c *Client) buildResult(subject domain.Subject, analysisCtx domain.AnalysisContext, payload sentimentPayload) *domain.SentimentResult {
	drivers := make([]domain.Driver, 0, len(payload.Drivers))
	for _, d := range payload.Drivers {
		drivers = append(drivers, domain.Driver{
			Factor:      d.Factor,
			Impact:      parseImpact(d.Impact),
			Description: d.Description,
			Evidence:    d.Evidence,
		})
	}

	citations := make([]domain.Citation, 0, len(payload.Citations))
	for _, cit := range payload.Citations {
		if cit.URL == "" {
			continue
		}
		citations = append(citations, domain.Citation{Title: cit.Title, URL: cit.URL})
	}

	return &domain.SentimentResult{
		Subject:    subject,
		Context:    analysisCtx,
		Historical: toAssessment(payload.Historical),
		Current:    toAssessment(payload.Current),
		LongTerm:   toAssessment(payload.LongTerm),
		Drivers:    drivers,
		Citations:  citations,
		FetchedAt:  c.clock.Now(),
	}
}

func toAssessment(h horizonPayload) domain.HorizonAssessment {
	return domain.HorizonAssessment{
		Score:   domain.ClampScore(h.Score),
		Label:   h.Label,
		Summary: h.Summary,
	}
}

func parseImpact(s string) domain.DriverImpact {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return domain.ImpactPositive
	case "negative":
		return domain.ImpactNegative
	default:
		return domain.ImpactNeutral
	}
}

// mergeGroundingCitations folds web grounding sources into the citation
// list, skipping URLs the model already cited.
func mergeGroundingCitations(result *domain.SentimentResult, gm *groundingMetadata) {
	if gm == nil {
		return
	}
	seen := make(map[string]bool, len(result.Citations))
	for _, cit := range result.Citations {
		seen[cit.URL] = true
	}
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		result.Citations = append(result.Citations, domain.Citation{Title: chunk.Web.Title, URL: chunk.Web.URI})
	}
}

func candidateText(cand candidate) string {
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	return strings.TrimSpace(sb.String())
}

// extractJSON strips markdown code fences some models wrap around JSON even
// under a response schema.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
	}
	return strings.TrimSpace(text)
}

func bodySnippet(raw []byte) string {
	const max = 512
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		s = s[:max]
	}
	return s
}
