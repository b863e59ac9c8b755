package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// batchAnalysisSchema is the JSON schema requested from the vision model and
// used to validate its response locally.
const batchAnalysisSchema = `{
	"type": "object",
	"properties": {
		"pages": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"page_number": {"type": "integer"},
					"page_summary": {"type": "string"}
				},
				"required": ["page_number", "page_summary"]
			}
		},
		"batch_summary": {"type": "string"},
		"key_events": {
			"type": "array",
			"items": {"type": "string"}
		},
		"continuity_notes": {"type": "string"}
	},
	"required": ["pages", "batch_summary", "key_events"]
}`

var compiledBatchSchema = jsonschema.MustCompileString("batch_analysis.json", batchAnalysisSchema)

// batchResponseFormat returns the structured-output request body fragment.
func batchResponseFormat() *chatResponseFormat {
	wrapper := fmt.Sprintf(`{"name": "batch_analysis", "strict": true, "schema": %s}`, batchAnalysisSchema)
	return &chatResponseFormat{
		Type:       "json_schema",
		JSONSchema: json.RawMessage(wrapper),
	}
}

// ParseBatchAnalysis parses a model response into a BatchAnalysis. Responses
// that fail to parse or validate come back with ParseError set and the raw
// text preserved in BatchSummary; the caller decides how to degrade.
func ParseBatchAnalysis(raw string) *BatchAnalysis {
	text := StripJSONFences(raw)

	var result BatchAnalysis
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return &BatchAnalysis{BatchSummary: strings.TrimSpace(raw), ParseError: true}
	}

	var generic any
	if err := json.Unmarshal([]byte(text), &generic); err == nil {
		if err := compiledBatchSchema.Validate(generic); err != nil {
			result.ParseError = true
		}
	}

	return &result
}

// StripJSONFences removes a surrounding markdown code fence, if any.
// Models frequently wrap JSON in ```json ... ``` despite instructions.
func StripJSONFences(s string) string {
	text := strings.TrimSpace(s)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

const batchSystemPrompt = `你是一个漫画内容分析助手。你将看到一批连续的漫画页面图片。` +
	`结合提供的上文剧情，输出严格符合给定 JSON 结构的分析结果，所有文字均为中文。` +
	`不要输出 JSON 以外的任何内容。`

// batchUserPrompt renders the per-call instruction text.
func batchUserPrompt(startPage, pageCount int, contextText string) string {
	var b strings.Builder
	endPage := startPage + pageCount - 1

	if contextText != "" {
		b.WriteString("以下是之前批次的剧情，供理解连贯性：\n")
		b.WriteString(contextText)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "请分析第%d-%d页（共%d张图片，按顺序对应页码）。", startPage, endPage, pageCount)
	b.WriteString("对每一页给出 page_number 和 page_summary；")
	b.WriteString("给出整批的 batch_summary、key_events（重要剧情事件列表）和 continuity_notes（与前文的衔接说明）。")
	return b.String()
}
