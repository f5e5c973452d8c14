package analysis

import (
	"fmt"
	"strings"
)

// categoryPrompt tunes the instructions for one document category.
type categoryPrompt struct {
	Role  string
	Focus []string
}

var categoryPrompts = map[string]categoryPrompt{
	"drawings": {
		Role: "You review construction drawings and sheet sets.",
		Focus: []string{
			"sheet numbers, disciplines and revision marks",
			"quantities that can be measured from the drawings (areas, lengths, counts)",
			"materials and finishes called out in notes and schedules",
		},
	},
	"specifications": {
		Role: "You review construction specifications.",
		Focus: []string{
			"specification sections and the trades they apply to",
			"named products, materials and performance requirements",
			"submittal, testing and warranty obligations",
		},
	},
	"contracts": {
		Role: "You review construction contracts and subcontracts.",
		Focus: []string{
			"parties, contract sum and payment terms",
			"scope inclusions and exclusions as line items",
			"key dates, retention, liquidated damages and insurance requirements",
		},
	},
	"bill_of_quantities": {
		Role: "You extract bills of quantities.",
		Focus: []string{
			"every line item with code, description, quantity, unit and rate",
			"section subtotals and the grand total",
			"provisional sums and allowances",
		},
	},
	"schedule": {
		Role: "You review construction programmes and schedules.",
		Focus: []string{
			"phases, milestones and their dates",
			"activities on or near the critical path",
			"trade sequencing that affects procurement lead times",
		},
	},
	"general": {
		Role: "You review construction project documents.",
		Focus: []string{
			"what kind of document this is and who issued it",
			"any measurable quantities or costs",
			"dates, obligations and risks relevant to the project team",
		},
	},
}

// Categories lists the categories with dedicated prompts.
func Categories() []string {
	return []string{"drawings", "specifications", "contracts", "bill_of_quantities", "schedule", "general"}
}

func promptFor(category string) categoryPrompt {
	if p, ok := categoryPrompts[strings.ToLower(strings.TrimSpace(category))]; ok {
		return p
	}
	return categoryPrompts["general"]
}

func systemPrompt(category string) string {
	p := promptFor(category)
	var b strings.Builder
	b.WriteString(p.Role)
	b.WriteString(" Report findings by calling the ")
	b.WriteString(toolName)
	b.WriteString(" function. Focus on:\n")
	for _, f := range p.Focus {
		b.WriteString("- ")
		b.WriteString(f)
		b.WriteByte('\n')
	}
	b.WriteString("Use numbers without currency symbols. Leave out anything the document does not support; do not invent quantities.")
	return b.String()
}

// maxPromptChars bounds the extracted text sent to the model.
const maxPromptChars = 60000

type documentMeta struct {
	Name        string
	Category    string
	ContentType string
	SizeBytes   int64
}

func userPrompt(meta documentMeta, text string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", meta.Name)
	fmt.Fprintf(&b, "Category: %s\n", meta.Category)
	if meta.ContentType != "" {
		fmt.Fprintf(&b, "Content type: %s\n", meta.ContentType)
	}
	fmt.Fprintf(&b, "Size: %d bytes\n\n", meta.SizeBytes)

	text = strings.TrimSpace(text)
	if text == "" {
		b.WriteString("No text could be extracted from this file. Analyze it from the metadata above and keep line_items empty unless the name makes them obvious.")
		return b.String()
	}
	if len(text) > maxPromptChars {
		text = truncateUTF8(text, maxPromptChars) + "\n[truncated]"
	}
	b.WriteString("Extracted text:\n")
	b.WriteString(text)
	return b.String()
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
