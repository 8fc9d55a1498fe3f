package proposal

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a3tai/mcp-conform/internal/change"
)

const proposeSystemPrompt = `You are a construction document controller. You read addenda issued ` +
	`during bidding and list every revision they make to the base drawings and specifications. ` +
	`Each revision becomes one change instruction. Use PAGE_ADD, PAGE_DELETE or PAGE_REPLACE when a ` +
	`whole sheet or page is issued, voided or reissued, TEXT_ADD, TEXT_DELETE or TEXT_REPLACE when ` +
	`wording changes, and GENERAL_NOTE for anything else. Quote exact_text_to_find verbatim from the ` +
	`base document when you can see it. source_page is the 1-based page of the addendum that carries ` +
	`the new sheet. insert_after_original_page_number is 0 to insert before the first page. Leave page ` +
	`numbers of the base document null when unsure; they are located afterwards. Also list the ` +
	`questions answered in the addenda. Reply with a JSON object only.`

const verifySystemPrompt = `You check construction documents for consistency. Answer the question ` +
	`about the provided documents with a JSON object {"isConsistent": boolean, "reasoning": string}.`

// responseSchema is sent as a hint; the instructions are validated again locally
func responseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"changeInstructions": map[string]any{"type": "array", "items": change.InstructionSchema()},
			"questionsAndAnswers": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"answer":   map[string]any{"type": "string"},
					},
					"required": []string{"question", "answer"},
				},
			},
		},
		"required": []string{"changeInstructions"},
	}
}

// renderDocument writes one document as page-delimited text, truncated to limit bytes
func renderDocument(b *strings.Builder, label string, doc Document, limit int) {
	fmt.Fprintf(b, "=== %s: %s (%d pages) ===\n", label, doc.Name, len(doc.Pages))
	written := 0
	for i, page := range doc.Pages {
		header := fmt.Sprintf("--- page %d ---\n", i+1)
		if limit > 0 && written+len(header)+len(page) > limit {
			b.WriteString("[truncated]\n")
			return
		}
		b.WriteString(header)
		b.WriteString(page)
		b.WriteString("\n")
		written += len(header) + len(page) + 1
	}
}

func buildProposeUserPrompt(req Request, limit int) string {
	var b strings.Builder
	for _, a := range req.Addenda {
		renderDocument(&b, "ADDENDUM", a, limit)
	}
	if req.BaseDrawings != nil {
		renderDocument(&b, "BASE DRAWINGS", *req.BaseDrawings, limit)
	}
	if req.BaseSpecs != nil {
		renderDocument(&b, "BASE SPECIFICATIONS", *req.BaseSpecs, limit)
	}
	b.WriteString("\nReturn ONLY JSON matching this schema:\n")
	b.WriteString(mustJSON(responseSchema()))
	return b.String()
}

func buildVerifyUserPrompt(files []Document, question string, limit int) string {
	var b strings.Builder
	for _, f := range files {
		renderDocument(&b, "DOCUMENT", f, limit)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(question)
	return b.String()
}

func mustJSON(v any) string {
	bs, _ := json.Marshal(v)
	return string(bs)
}
