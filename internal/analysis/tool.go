package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

const toolName = "extract_bill_of_quantities"

var errMalformedToolCall = errors.New("malformed tool call")

// BillOfQuantities is the structured result the model returns.
type BillOfQuantities struct {
	Summary     string     `json:"summary"`
	ProjectInfo struct {
		ProjectName  string `json:"project_name,omitempty"`
		Location     string `json:"location,omitempty"`
		Client       string `json:"client,omitempty"`
		DocumentType string `json:"document_type,omitempty"`
	} `json:"project_info"`
	LineItems []LineItem `json:"line_items"`
	Totals    struct {
		Subtotal float64 `json:"subtotal,omitempty"`
		Tax      float64 `json:"tax,omitempty"`
		Total    float64 `json:"total,omitempty"`
		Currency string  `json:"currency,omitempty"`
	} `json:"totals"`
	KeyDates []struct {
		Label string `json:"label"`
		Date  string `json:"date"`
	} `json:"key_dates"`
	Risks []string `json:"risks"`
}

type LineItem struct {
	ItemCode    string  `json:"item_code,omitempty"`
	Description string  `json:"description"`
	Trade       string  `json:"trade,omitempty"`
	Quantity    float64 `json:"quantity,omitempty"`
	Unit        string  `json:"unit,omitempty"`
	UnitRate    float64 `json:"unit_rate,omitempty"`
	Total       float64 `json:"total,omitempty"`
}

func str(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.String, Description: desc}
}

func num(desc string) jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Number, Description: desc}
}

func toolDefinition() openai.Tool {
	params := jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"summary": str("Two to four sentence summary of the document for the project team"),
			"project_info": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"project_name":  str("Project name as written in the document"),
					"location":      str("Site address or location"),
					"client":        str("Client or owner"),
					"document_type": str("Kind of document, e.g. drawing set, specification, subcontract"),
				},
			},
			"line_items": {
				Type:        jsonschema.Array,
				Description: "Measured or priced items of work",
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"item_code":   str("Item or section reference"),
						"description": str("Description of the work or material"),
						"trade":       str("Trade the item belongs to"),
						"quantity":    num("Quantity"),
						"unit":        str("Unit of measure, e.g. m2, m3, ea, lm"),
						"unit_rate":   num("Rate per unit"),
						"total":       num("Extended total"),
					},
					Required: []string{"description"},
				},
			},
			"totals": {
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"subtotal": num("Sum before tax"),
					"tax":      num("Tax amount"),
					"total":    num("Grand total"),
					"currency": str("ISO 4217 currency code"),
				},
			},
			"key_dates": {
				Type: jsonschema.Array,
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"label": str("What the date is for"),
						"date":  str("Date as YYYY-MM-DD when known"),
					},
					Required: []string{"label", "date"},
				},
			},
			"risks": {
				Type:        jsonschema.Array,
				Description: "Risks, exclusions or ambiguities worth flagging",
				Items:       &jsonschema.Definition{Type: jsonschema.String},
			},
		},
		Required: []string{"summary", "line_items"},
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        toolName,
			Description: "Record the structured bill of quantities and summary extracted from a construction document",
			Parameters:  params,
		},
	}
}

func forcedToolChoice() openai.ToolChoice {
	return openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: toolName},
	}
}

// parseToolCall pulls the forced tool call out of a completion. It returns
// the compacted arguments alongside the decoded result.
func parseToolCall(resp openai.ChatCompletionResponse) (json.RawMessage, BillOfQuantities, error) {
	if len(resp.Choices) == 0 {
		return nil, BillOfQuantities{}, fmt.Errorf("%w: no choices", errMalformedToolCall)
	}
	var call *openai.ToolCall
	for i, tc := range resp.Choices[0].Message.ToolCalls {
		if tc.Function.Name == toolName {
			call = &resp.Choices[0].Message.ToolCalls[i]
			break
		}
	}
	if call == nil {
		return nil, BillOfQuantities{}, fmt.Errorf("%w: %s not called", errMalformedToolCall, toolName)
	}

	raw := strings.TrimSpace(call.Function.Arguments)
	if !strings.HasPrefix(raw, "{") {
		return nil, BillOfQuantities{}, fmt.Errorf("%w: arguments are not an object", errMalformedToolCall)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, []byte(raw)); err != nil {
		return nil, BillOfQuantities{}, fmt.Errorf("%w: %v", errMalformedToolCall, err)
	}
	var boq BillOfQuantities
	if err := json.Unmarshal(compact.Bytes(), &boq); err != nil {
		return nil, BillOfQuantities{}, fmt.Errorf("%w: %v", errMalformedToolCall, err)
	}
	if boq.Summary = strings.TrimSpace(boq.Summary); boq.Summary == "" {
		boq.Summary = fmt.Sprintf("%d line items extracted.", len(boq.LineItems))
	}
	return json.RawMessage(compact.Bytes()), boq, nil
}
