package tools

import (
	"encoding/json"
	"strings"
)

// ToolCall is a tool invocation extracted from model output.
type ToolCall struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

// Request converts the call into an executor request.
func (c *ToolCall) Request() *ToolRequest {
	return &ToolRequest{Tool: ToolType(c.Name), Params: c.Params}
}

// ParseToolCalls extracts tool calls from model output and returns them along
// with the remaining prose. Recognizes
//
//	<tool>notion_search</tool><params>{"query": "roadmap"}</params>
//
// and, when no such block is present, the shorthand <notion_search>roadmap</notion_search>.
func ParseToolCalls(response string) ([]*ToolCall, string) {
	calls, cleaned := parseCanonicalToolCalls(response)
	if len(calls) == 0 {
		calls, cleaned = parseShorthandToolCalls(cleaned)
	}
	return calls, strings.TrimSpace(cleaned)
}

func parseCanonicalToolCalls(response string) ([]*ToolCall, string) {
	var calls []*ToolCall
	cleaned := response

	for {
		toolStart := strings.Index(cleaned, "<tool>")
		if toolStart == -1 {
			break
		}
		toolEnd := strings.Index(cleaned[toolStart:], "</tool>")
		if toolEnd == -1 {
			break
		}
		toolEnd += toolStart

		paramsStart := strings.Index(cleaned[toolEnd:], "<params>")
		if paramsStart == -1 {
			break
		}
		paramsStart += toolEnd

		paramsEnd := strings.Index(cleaned[paramsStart:], "</params>")
		if paramsEnd == -1 {
			break
		}
		paramsEnd += paramsStart

		name := strings.TrimSpace(cleaned[toolStart+len("<tool>") : toolEnd])
		raw := cleaned[paramsStart+len("<params>") : paramsEnd]

		calls = append(calls, &ToolCall{Name: name, Params: parseParams(raw)})
		cleaned = cleaned[:toolStart] + cleaned[paramsEnd+len("</params>"):]
	}

	return calls, cleaned
}

// parseParams decodes a JSON object of parameters. Models sometimes wrap the
// object in stray characters or emit non-string values; both are tolerated.
func parseParams(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, ">")
	raw = strings.TrimPrefix(raw, "<")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return map[string]string{}
	}

	params := make(map[string]string, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case string:
			params[k] = val
		case nil:
		default:
			b, _ := json.Marshal(val)
			params[k] = string(b)
		}
	}
	return params
}

// primaryParam is the parameter a bare shorthand body is assigned to.
var primaryParam = map[ToolType]string{
	ToolNotionSearch:   "query",
	ToolNotionPage:     "page_id",
	ToolNotionDatabase: "database_id",
}

func parseShorthandToolCalls(response string) ([]*ToolCall, string) {
	var calls []*ToolCall
	cleaned := response

	for _, name := range []ToolType{ToolNotionSearch, ToolNotionPage, ToolNotionDatabase} {
		openTag := "<" + string(name) + ">"
		closeTag := "</" + string(name) + ">"

		for {
			start := strings.Index(cleaned, openTag)
			if start == -1 {
				break
			}
			end := strings.Index(cleaned[start:], closeTag)
			if end == -1 {
				break
			}
			end += start

			body := strings.TrimSpace(cleaned[start+len(openTag) : end])
			var params map[string]string
			if strings.HasPrefix(body, "{") {
				params = parseParams(body)
			} else {
				params = map[string]string{primaryParam[name]: strings.Trim(body, "\"'")}
			}

			calls = append(calls, &ToolCall{Name: string(name), Params: params})
			cleaned = cleaned[:start] + cleaned[end+len(closeTag):]
		}
	}

	return calls, cleaned
}
