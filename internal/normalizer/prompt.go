package normalizer

import (
	"strings"

	"addrclean/internal"
)

// BuildPrompt lays out the instruction, a blank line, then one record per line.
func BuildPrompt(prefix string, lines []string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString("\n")
	for _, line := range lines {
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

var fieldNames = []string{"name", "address_line_1", "address_line_2", "address_line_3", "district", "state", "pin_code"}

// ResponseSchema is the JSON schema the service must answer with.
func ResponseSchema() map[string]any {
	props := map[string]any{}
	for _, f := range fieldNames {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"respondents": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":       "object",
					"properties": props,
					"required":   fieldNames,
				},
			},
		},
		"required": []string{"respondents"},
	}
}

type respondentPayload struct {
	Name         *string `json:"name"`
	AddressLine1 *string `json:"address_line_1"`
	AddressLine2 *string `json:"address_line_2"`
	AddressLine3 *string `json:"address_line_3"`
	District     *string `json:"district"`
	State        *string `json:"state"`
	PinCode      *string `json:"pin_code"`
}

type respondentListPayload struct {
	Respondents *[]respondentPayload `json:"respondents"`
}

func (p respondentPayload) toRecord() (internal.NormalizedRecord, string) {
	fields := []*string{p.Name, p.AddressLine1, p.AddressLine2, p.AddressLine3, p.District, p.State, p.PinCode}
	for i, f := range fields {
		if f == nil {
			return internal.NormalizedRecord{}, fieldNames[i]
		}
	}
	return internal.NormalizedRecord{
		Name:         *p.Name,
		AddressLine1: *p.AddressLine1,
		AddressLine2: *p.AddressLine2,
		AddressLine3: *p.AddressLine3,
		District:     *p.District,
		State:        *p.State,
		PinCode:      *p.PinCode,
	}, ""
}

// stripCodeFence removes a markdown ``` wrapper some models add around JSON.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") || !strings.HasSuffix(content, "```") {
		return content
	}
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")
	content = strings.TrimPrefix(content, "json")
	return strings.TrimSpace(content)
}
