package change

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownChangeType marks an instruction whose change_type is not recognized
var ErrUnknownChangeType = errors.New("unknown change_type")

// Quarantined is a raw instruction rejected at the boundary
type Quarantined struct {
	Index  int             `json:"index"`
	Raw    json.RawMessage `json:"raw"`
	Reason string          `json:"reason"`
}

// DecodeResult splits an LLM payload into usable and quarantined instructions
type DecodeResult struct {
	Instructions []Instruction `json:"instructions"`
	Quarantined  []Quarantined `json:"quarantined,omitempty"`
}

// InstructionSchema returns the JSON Schema one change instruction must satisfy.
// The same map is sent to the model as a structured output hint.
func InstructionSchema() map[string]any {
	page := map[string]any{"type": []string{"integer", "null"}, "minimum": 1}
	text := map[string]any{"type": []string{"string", "null"}}

	types := make([]string, 0, len(AllTypes))
	for _, t := range AllTypes {
		types = append(types, string(t))
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":          map[string]any{"type": "integer"},
			"change_type": map[string]any{"type": "string", "enum": types},
			"status": map[string]any{
				"type": []string{"string", "null"},
				"enum": []any{string(StatusPending), string(StatusApproved), string(StatusRejected), nil},
			},
			"source_original_document": map[string]any{
				"type": "string",
				"enum": []string{string(Drawings), string(Specs)},
			},
			"addendum_name":                     text,
			"description":                       text,
			"target_page_number":                page,
			"source_page":                       page,
			"insert_after_original_page_number": map[string]any{"type": []string{"integer", "null"}, "minimum": 0},
			"original_page_number":              page,
			"exact_text_to_find":                text,
			"new_text_to_insert":                text,
			"location_hint":                     text,
			"spec_section":                      text,
			"semantic_search_query":             text,
			"discipline":                        text,
		},
		"required": []string{"id", "change_type", "source_original_document"},
	}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func instructionValidator() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		b, err := json.Marshal(InstructionSchema())
		if err != nil {
			schemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("instruction.json", bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("instruction.json")
	})
	return compiledSchema, schemaErr
}

// Decode validates a JSON array of instructions. Elements that fail the schema or
// the per-kind rules are quarantined instead of returned. Ids are kept as sent and
// may repeat; the change log assigns its own. An error is returned only when the
// payload itself is not a JSON array.
func Decode(raw []byte) (*DecodeResult, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("change instructions must be a JSON array: %w", err)
	}

	schema, err := instructionValidator()
	if err != nil {
		return nil, err
	}

	result := &DecodeResult{}
	for i, item := range items {
		in, reason := decodeOne(schema, item)
		if reason != "" {
			result.Quarantined = append(result.Quarantined, Quarantined{Index: i, Raw: item, Reason: reason})
			continue
		}
		result.Instructions = append(result.Instructions, in)
	}
	return result, nil
}

func decodeOne(schema *jsonschema.Schema, item json.RawMessage) (Instruction, string) {
	var generic any
	if err := json.Unmarshal(item, &generic); err != nil {
		return Instruction{}, fmt.Sprintf("invalid JSON: %v", err)
	}
	if obj, ok := generic.(map[string]any); ok {
		if ct, ok := obj["change_type"].(string); ok && !Type(ct).Valid() {
			return Instruction{}, fmt.Sprintf("%v: %q", ErrUnknownChangeType, ct)
		}
	}
	if err := schema.Validate(generic); err != nil {
		return Instruction{}, fmt.Sprintf("schema: %v", err)
	}

	var in Instruction
	if err := json.Unmarshal(item, &in); err != nil {
		return Instruction{}, fmt.Sprintf("decode: %v", err)
	}
	if in.Status == "" {
		in.Status = StatusPending
	}
	if err := in.Validate(); err != nil {
		return Instruction{}, err.Error()
	}
	return in, ""
}

// Validate applies the per-kind field rules
func (in *Instruction) Validate() error {
	if !in.ChangeType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChangeType, in.ChangeType)
	}
	if !in.Status.Valid() {
		return fmt.Errorf("invalid status %q", in.Status)
	}
	if !in.SourceOriginalDocument.Valid() {
		return fmt.Errorf("invalid source_original_document %q", in.SourceOriginalDocument)
	}

	switch in.ChangeType {
	case PageAdd:
		if in.SourcePage == nil {
			return errors.New("PAGE_ADD requires source_page")
		}
		if in.InsertAfterOriginalPageNumber == nil {
			return errors.New("PAGE_ADD requires insert_after_original_page_number")
		}
	case PageReplace:
		if in.SourcePage == nil {
			return errors.New("PAGE_REPLACE requires source_page")
		}
	case TextAdd, TextReplace:
		if strings.TrimSpace(in.NewTextToInsert) == "" {
			return fmt.Errorf("%s requires new_text_to_insert", in.ChangeType)
		}
	case TextDelete:
		if strings.TrimSpace(in.ExactTextToFind) == "" && strings.TrimSpace(in.LocationHint) == "" {
			return errors.New("TEXT_DELETE requires exact_text_to_find or location_hint")
		}
	}
	return nil
}
