// Package project persists project records: the change log with its review
// statuses and the files that make up the project. Conformed sequences are
// derived data and are never stored.
package project

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/a3tai/mcp-conform/internal/change"
)

// ErrNotFound is returned when no record exists for an id
var ErrNotFound = errors.New("project not found")

// FileKind tells what role a file plays in the project
type FileKind string

const (
	KindBaseDrawings FileKind = "base_drawings"
	KindBaseSpecs    FileKind = "base_specs"
	KindAddendum     FileKind = "addendum"
)

// FileRef points at a PDF inside the data directory
type FileRef struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	Kind      FileKind `json:"kind"`
	PageCount int      `json:"pageCount"`
	SHA256    string   `json:"sha256,omitempty"`
}

// Record is the persisted state of one project
type Record struct {
	ProjectID             string               `json:"projectId"`
	ProjectName           string               `json:"projectName"`
	ChangeLog             []change.Instruction `json:"changeLog"`
	QuestionsAndAnswers   []change.QAndAItem   `json:"questionsAndAnswers,omitempty"`
	BaseDrawingsPageCount int                  `json:"baseDrawingsPageCount"`
	BaseSpecsPageCount    int                  `json:"baseSpecsPageCount"`
	BaseDrawings          *FileRef             `json:"baseDrawings,omitempty"`
	BaseSpecs             *FileRef             `json:"baseSpecs,omitempty"`
	Addenda               []FileRef            `json:"addenda"`
	UpdatedAt             time.Time            `json:"updatedAt"`
}

// New creates an empty record with a fresh id
func New(name string) *Record {
	return &Record{
		ProjectID:   uuid.NewString(),
		ProjectName: name,
		ChangeLog:   []change.Instruction{},
		Addenda:     []FileRef{},
	}
}

// BasePageCount returns the page count of the base document of docType
func (r *Record) BasePageCount(docType change.DocType) int {
	if docType == change.Drawings {
		return r.BaseDrawingsPageCount
	}
	return r.BaseSpecsPageCount
}

// Base returns the base file of docType, if set
func (r *Record) Base(docType change.DocType) *FileRef {
	if docType == change.Drawings {
		return r.BaseDrawings
	}
	return r.BaseSpecs
}

// SetBase records the base file of docType and its page count
func (r *Record) SetBase(docType change.DocType, ref FileRef) {
	if docType == change.Drawings {
		ref.Kind = KindBaseDrawings
		r.BaseDrawings = &ref
		r.BaseDrawingsPageCount = ref.PageCount
		return
	}
	ref.Kind = KindBaseSpecs
	r.BaseSpecs = &ref
	r.BaseSpecsPageCount = ref.PageCount
}

// Addendum returns the addendum named name, if any
func (r *Record) Addendum(name string) (FileRef, bool) {
	for _, a := range r.Addenda {
		if a.Name == name {
			return a, true
		}
	}
	return FileRef{}, false
}

// AddAddendum adds or replaces the addendum with the same name
func (r *Record) AddAddendum(ref FileRef) {
	ref.Kind = KindAddendum
	for i := range r.Addenda {
		if r.Addenda[i].Name == ref.Name {
			r.Addenda[i] = ref
			return
		}
	}
	r.Addenda = append(r.Addenda, ref)
}

// Reset clears everything derived from the addenda; base files are kept
func (r *Record) Reset() {
	r.ChangeLog = []change.Instruction{}
	r.QuestionsAndAnswers = nil
	r.Addenda = []FileRef{}
}

// NextChangeID returns one past the largest id in the change log
func (r *Record) NextChangeID() int {
	next := 1
	for _, in := range r.ChangeLog {
		if in.ID >= next {
			next = in.ID + 1
		}
	}
	return next
}

// Summary is a listing entry
type Summary struct {
	ProjectID   string    `json:"projectId"`
	ProjectName string    `json:"projectName"`
	Changes     int       `json:"changes"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Store is the key-value project store
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Summary, error)
	Close() error
}
