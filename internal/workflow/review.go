package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/diff"
	"github.com/a3tai/mcp-conform/internal/index"
	"github.com/a3tai/mcp-conform/internal/locate"
	"github.com/a3tai/mcp-conform/internal/proposal"
)

// ErrChangeNotFound is returned when a change id is not in the change log
var ErrChangeNotFound = errors.New("change not found")

// ProposeResult reports what one proposal run added to the change log
type ProposeResult struct {
	Added               []int                `json:"added"`
	Quarantined         []change.Quarantined `json:"quarantined,omitempty"`
	QuestionsAndAnswers []change.QAndAItem   `json:"questionsAndAnswers,omitempty"`
	Locate              locate.Report        `json:"locate"`
}

func pagesText(entries []index.Entry) []string {
	pages := make([]string, len(entries))
	for i, e := range entries {
		pages[i] = e.FullText
	}
	return pages
}

// documents returns the extracted text of the addenda, in the order they were added
func (s *session) documents() []proposal.Document {
	docs := make([]proposal.Document, 0, len(s.record.Addenda))
	for _, a := range s.record.Addenda {
		docs = append(docs, proposal.Document{Name: a.Name, Pages: pagesText(s.addenda[a.Name])})
	}
	return docs
}

func (s *session) baseDocument(dt change.DocType) *proposal.Document {
	ref := s.record.Base(dt)
	entries, ok := s.indexes[dt]
	if ref == nil || !ok {
		return nil
	}
	return &proposal.Document{Name: ref.Name, Pages: pagesText(entries)}
}

// Propose asks the model for change instructions, appends them to the change
// log with fresh ids, and locates every instruction still missing its page.
// Model errors are returned with their message intact and leave the log unchanged.
func (c *Controller) Propose(ctx context.Context, projectID string) (*ProposeResult, error) {
	if c.proposer == nil {
		return nil, errors.New("no proposer configured")
	}
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	rec := cloneRecord(sess.record)
	if len(rec.Addenda) == 0 {
		return nil, errors.New("add at least one addendum before proposing changes")
	}

	p, err := c.proposer.ProposeChanges(ctx, proposal.Request{
		Addenda:      sess.documents(),
		BaseDrawings: sess.baseDocument(change.Drawings),
		BaseSpecs:    sess.baseDocument(change.Specs),
	})
	if err != nil {
		return nil, fmt.Errorf("propose changes: %w", err)
	}

	result := &ProposeResult{
		Added:               make([]int, 0, len(p.ChangeInstructions)),
		Quarantined:         p.Quarantined,
		QuestionsAndAnswers: p.QuestionsAndAnswers,
	}
	next := rec.NextChangeID()
	for _, in := range p.ChangeInstructions {
		in.ID = next
		next++
		if in.AddendumName == "" && len(rec.Addenda) == 1 {
			in.AddendumName = rec.Addenda[0].Name
		}
		rec.ChangeLog = append(rec.ChangeLog, in)
		result.Added = append(result.Added, in.ID)
	}
	rec.QuestionsAndAnswers = append(rec.QuestionsAndAnswers, p.QuestionsAndAnswers...)
	result.Locate = c.locator.LocateAll(rec.ChangeLog, sess.indexes)

	if err := c.commit(ctx, sess, rec); err != nil {
		return nil, err
	}
	c.logger.Info("workflow.proposed",
		"project_id", projectID,
		"added", len(result.Added),
		"quarantined", len(result.Quarantined),
		"located", len(result.Locate.Located),
		"unlocated", len(result.Locate.Unlocated),
	)
	return result, nil
}

// Changes returns a copy of the change log
func (c *Controller) Changes(ctx context.Context, projectID string) ([]change.Instruction, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()
	return cloneChanges(sess.record.ChangeLog), nil
}

// SetStatus applies one review decision to a batch of changes and returns the
// ids that are not in the change log
func (c *Controller) SetStatus(ctx context.Context, projectID string, ids []int, status change.Status) ([]int, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()

	rec := cloneRecord(sess.record)
	missing, err := change.SetStatus(rec.ChangeLog, ids, status)
	if err != nil {
		return nil, err
	}
	if len(missing) < len(ids) {
		if err := c.commit(ctx, sess, rec); err != nil {
			return nil, err
		}
		c.scheduler.Forget(projectID + "/")
	}
	c.logger.Info("workflow.status_set", "project_id", projectID, "status", status, "count", len(ids)-len(missing))
	return missing, nil
}

// PlaceChange sets the base page of a change by hand, for changes the locator
// could not place or placed wrongly
func (c *Controller) PlaceChange(ctx context.Context, projectID string, changeID, page int) (change.Instruction, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return change.Instruction{}, err
	}
	defer sess.mu.Unlock()

	rec := cloneRecord(sess.record)
	in := change.Find(rec.ChangeLog, changeID)
	if in == nil {
		return change.Instruction{}, fmt.Errorf("%w: %d", ErrChangeNotFound, changeID)
	}
	if n := rec.BasePageCount(in.SourceOriginalDocument); n > 0 && page > n {
		return change.Instruction{}, fmt.Errorf("page %d is beyond the %d pages of the base %s", page, n, in.SourceOriginalDocument)
	}
	if err := in.SetLocatedPage(page); err != nil {
		return change.Instruction{}, err
	}
	if err := c.commit(ctx, sess, rec); err != nil {
		return change.Instruction{}, err
	}
	c.logger.Info("workflow.change_placed", "project_id", projectID, "id", changeID, "page", page)
	return in.Clone(), nil
}

// Sequence derives the conformed page sequence of docType from the approved changes
func (c *Controller) Sequence(ctx context.Context, projectID string, dt change.DocType) (assemble.Result, error) {
	if !dt.Valid() {
		return assemble.Result{}, fmt.Errorf("invalid document type: %s", dt)
	}
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return assemble.Result{}, err
	}
	defer sess.mu.Unlock()
	return sess.sequence(dt), nil
}

func (s *session) sequence(dt change.DocType) assemble.Result {
	return assemble.Plan(s.record.ChangeLog, s.record.BasePageCount(dt), dt)
}

// TextDiff returns the word diff between the old and new text of a text change
func (c *Controller) TextDiff(ctx context.Context, projectID string, changeID int) ([]diff.Token, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	found := change.Find(sess.record.ChangeLog, changeID)
	var in change.Instruction
	if found != nil {
		in = found.Clone()
	}
	sess.mu.Unlock()

	switch {
	case found == nil:
		return nil, fmt.Errorf("%w: %d", ErrChangeNotFound, changeID)
	case !in.IsTextChange():
		return nil, fmt.Errorf("change %d is a %s, not a text change", changeID, in.ChangeType)
	}
	before, after := diffSides(&in)
	return diff.Merge(diff.Words(before, after)), nil
}

func diffSides(in *change.Instruction) (string, string) {
	switch in.ChangeType {
	case change.TextAdd:
		return "", in.NewTextToInsert
	case change.TextDelete:
		return in.ExactTextToFind, ""
	default:
		return in.ExactTextToFind, in.NewTextToInsert
	}
}

// Verify asks the model whether the project documents agree on question
func (c *Controller) Verify(ctx context.Context, projectID, question string) (proposal.Consistency, error) {
	if c.verifier == nil {
		return proposal.Consistency{}, errors.New("no verifier configured")
	}
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return proposal.Consistency{}, err
	}
	files := sess.documents()
	for _, dt := range change.DocTypes {
		if doc := sess.baseDocument(dt); doc != nil {
			files = append(files, *doc)
		}
	}
	sess.mu.Unlock()

	res, err := c.verifier.VerifyConsistency(ctx, files, question)
	if err != nil {
		return proposal.Consistency{}, fmt.Errorf("verify consistency: %w", err)
	}
	return res, nil
}
