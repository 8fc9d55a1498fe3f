// Package proposal talks to the language model that reads addenda and proposes
// change instructions. The model is an external collaborator: its failures are
// returned to the caller with the original message intact.
package proposal

import (
	"context"

	"github.com/a3tai/mcp-conform/internal/change"
)

// Document is the extracted text of one PDF, one string per page
type Document struct {
	Name  string   `json:"name"`
	Pages []string `json:"pages"`
}

// Request is the input of ProposeChanges
type Request struct {
	Addenda      []Document
	BaseDrawings *Document
	BaseSpecs    *Document
}

// Proposal is the decoded model answer. Instructions that failed boundary
// validation are in Quarantined, never in ChangeInstructions.
type Proposal struct {
	ChangeInstructions  []change.Instruction `json:"changeInstructions"`
	QuestionsAndAnswers []change.QAndAItem   `json:"questionsAndAnswers"`
	Quarantined         []change.Quarantined `json:"quarantined,omitempty"`
}

// Consistency is the answer of VerifyConsistency
type Consistency struct {
	IsConsistent bool   `json:"isConsistent"`
	Reasoning    string `json:"reasoning"`
}

// Proposer extracts change instructions from addenda
type Proposer interface {
	ProposeChanges(ctx context.Context, req Request) (*Proposal, error)
}

// Verifier checks a set of documents against a question
type Verifier interface {
	VerifyConsistency(ctx context.Context, files []Document, question string) (Consistency, error)
}
