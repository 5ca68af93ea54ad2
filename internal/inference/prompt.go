package inference

import (
	"fmt"

	"github.com/fwintner/marketpulse/internal/domain"
)

const systemPrompt = `You are a commodity market analyst. You produce structured sentiment
assessments for a market dashboard. Scores are floating point values on a
-100 (extremely bearish) to +100 (extremely bullish) scale. Labels are short
verdicts such as "bearish", "neutral" or "bullish". Summaries are one to two
sentences. Every driver must name a concrete factor and cite the evidence
behind it. Respond with JSON only.`

// sentimentSchema is the JSON schema for structured output. It mirrors
// sentimentPayload; keeping the two in sync by hand is deliberate, the
// schema doubles as the wire-format documentation.
const sentimentSchema = `{
  "type": "object",
  "properties": {
    "historical": {
      "type": "object",
      "properties": {
        "score": {"type": "number"},
        "label": {"type": "string"},
        "summary": {"type": "string"}
      },
      "required": ["score", "label", "summary"]
    },
    "current": {
      "type": "object",
      "properties": {
        "score": {"type": "number"},
        "label": {"type": "string"},
        "summary": {"type": "string"}
      },
      "required": ["score", "label", "summary"]
    },
    "long_term": {
      "type": "object",
      "properties": {
        "score": {"type": "number"},
        "label": {"type": "string"},
        "summary": {"type": "string"}
      },
      "required": ["score", "label", "summary"]
    },
    "drivers": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "factor": {"type": "string"},
          "impact": {"type": "string", "enum": ["positive", "negative", "neutral"]},
          "description": {"type": "string"},
          "evidence": {"type": "string"}
        },
        "required": ["factor", "impact", "description", "evidence"]
      }
    },
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": {"type": "string"},
          "url": {"type": "string"}
        },
        "required": ["title", "url"]
      }
    }
  },
  "required": ["historical", "current", "long_term", "drivers", "citations"]
}`

// userPrompt builds the per-fetch request. The analysis context changes the
// framing of the whole assessment, not just a filter on sources.
func userPrompt(subject domain.Subject, analysisCtx domain.AnalysisContext) string {
	return fmt.Sprintf(`Analyze current market sentiment for %s from the %s.

Provide:
- "historical": sentiment over roughly the past twelve months
- "current": sentiment right now
- "long_term": the outlook over the next one to three years
- "drivers": at least four concrete factors moving this market, each with
  impact (positive/negative/neutral), a short description and the evidence
- "citations": the sources your assessment is based on`, subject, contextFraming(analysisCtx))
}

func contextFraming(analysisCtx domain.AnalysisContext) string {
	if analysisCtx == domain.ContextGlobal {
		return "perspective of the global market, considering worldwide supply, demand and trade flows"
	}
	return "perspective of the domestic market, considering local supply, demand and policy"
}
