// Package workflow drives a conformance project end to end: it owns the open
// documents, keeps the page indexes, runs the proposal and locator steps,
// records review decisions, and derives the conformed sequence on demand.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/a3tai/mcp-conform/internal/annotate"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/index"
	"github.com/a3tai/mcp-conform/internal/locate"
	"github.com/a3tai/mcp-conform/internal/pdf"
	"github.com/a3tai/mcp-conform/internal/pdf/security"
	"github.com/a3tai/mcp-conform/internal/project"
	"github.com/a3tai/mcp-conform/internal/proposal"
)

// owner is the registry owner of every document the controller opens
const owner = "workflow"

// Options wires a Controller. Cache, Verifier and Rasterizer are optional.
type Options struct {
	Registry   *pdf.Registry
	Validator  *pdf.Validator
	Paths      *security.PathValidator
	Indexer    *index.Indexer
	Cache      *index.Cache
	Locator    *locate.Locator
	Proposer   proposal.Proposer
	Verifier   proposal.Verifier
	Store      project.Store
	Rasterizer pdf.Rasterizer
	Annotate   annotate.Options
	Logger     *slog.Logger
}

// Controller is the top-level owner of projects and their documents
type Controller struct {
	registry  *pdf.Registry
	validator *pdf.Validator
	paths     *security.PathValidator
	indexer   *index.Indexer
	cache     *index.Cache
	locator   *locate.Locator
	proposer  proposal.Proposer
	verifier  proposal.Verifier
	store     project.Store
	scheduler *Scheduler
	annotate  annotate.Options
	logger    *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// session is the in-memory state of one open project. mu guards every field.
type session struct {
	mu      sync.Mutex
	record  *project.Record
	indexes map[change.DocType][]index.Entry
	addenda map[string][]index.Entry
	files   map[string][]byte
}

func newSession(rec *project.Record) *session {
	return &session{
		record:  rec,
		indexes: make(map[change.DocType][]index.Entry),
		addenda: make(map[string][]index.Entry),
		files:   make(map[string][]byte),
	}
}

// New checks the required collaborators and creates a controller
func New(opts Options) (*Controller, error) {
	switch {
	case opts.Registry == nil:
		return nil, errors.New("registry is required")
	case opts.Validator == nil:
		return nil, errors.New("validator is required")
	case opts.Paths == nil:
		return nil, errors.New("path validator is required")
	case opts.Indexer == nil:
		return nil, errors.New("indexer is required")
	case opts.Locator == nil:
		return nil, errors.New("locator is required")
	case opts.Store == nil:
		return nil, errors.New("project store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Rasterizer == nil {
		opts.Rasterizer = pdf.NewTextRasterizer()
	}
	if opts.Annotate == (annotate.Options{}) {
		opts.Annotate = annotate.DefaultOptions()
	}
	return &Controller{
		registry:  opts.Registry,
		validator: opts.Validator,
		paths:     opts.Paths,
		indexer:   opts.Indexer,
		cache:     opts.Cache,
		locator:   opts.Locator,
		proposer:  opts.Proposer,
		verifier:  opts.Verifier,
		store:     opts.Store,
		scheduler: NewScheduler(opts.Rasterizer, opts.Logger),
		annotate:  opts.Annotate,
		logger:    opts.Logger,
		sessions:  make(map[string]*session),
	}, nil
}

// Close releases every document the controller opened. The store is left to its owner.
func (c *Controller) Close() error {
	c.mu.Lock()
	c.sessions = make(map[string]*session)
	c.mu.Unlock()
	return c.registry.CloseOwned(owner)
}

// DataDir returns the directory every project file must live in
func (c *Controller) DataDir() string {
	return c.paths.Root()
}

// ListProjects returns the stored projects, most recently updated first
func (c *Controller) ListProjects(ctx context.Context) ([]project.Summary, error) {
	return c.store.List(ctx)
}

// acquire returns the session of project id locked; the caller must unlock it.
// A project not yet in memory is read from the store and its files reloaded.
func (c *Controller) acquire(ctx context.Context, id string) (*session, error) {
	if id == "" {
		return nil, errors.New("project id is required")
	}
	c.mu.Lock()
	sess, ok := c.sessions[id]
	if !ok {
		sess = newSession(nil)
		c.sessions[id] = sess
	}
	c.mu.Unlock()

	sess.mu.Lock()
	if sess.record != nil {
		return sess, nil
	}

	rec, err := c.store.Get(ctx, id)
	if err == nil {
		err = c.restore(ctx, sess, rec)
	}
	if err != nil {
		sess.mu.Unlock()
		c.mu.Lock()
		if c.sessions[id] == sess {
			delete(c.sessions, id)
		}
		c.mu.Unlock()
		return nil, err
	}
	return sess, nil
}

// restore reloads the files a stored record points at
func (c *Controller) restore(ctx context.Context, sess *session, rec *project.Record) error {
	var jobs []loadJob
	for _, dt := range change.DocTypes {
		if ref := rec.Base(dt); ref != nil {
			jobs = append(jobs, loadJob{docName: baseDocName(rec.ProjectID, dt), path: ref.Path, docType: dt})
		}
	}
	for _, a := range rec.Addenda {
		jobs = append(jobs, loadJob{docName: addendumDocName(rec.ProjectID, a.Name), path: a.Path, addendum: a.Name})
	}

	results, err := c.loadAll(ctx, jobs)
	if err != nil {
		return fmt.Errorf("reload project %s: %w", rec.ProjectID, err)
	}
	for i, job := range jobs {
		sess.files[job.docName] = results[i].data
		if job.addendum != "" {
			sess.addenda[job.addendum] = results[i].entries
		} else {
			sess.indexes[job.docType] = results[i].entries
		}
	}
	sess.record = rec
	c.logger.Info("workflow.restored", "project_id", rec.ProjectID, "files", len(jobs))
	return nil
}

// commit writes rec, an edited clone of the session's record, to the store and
// makes it the session's record. When the store fails the session is untouched.
func (c *Controller) commit(ctx context.Context, sess *session, rec *project.Record) error {
	if err := c.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	sess.record = rec
	return nil
}

func baseDocName(projectID string, dt change.DocType) string {
	return projectID + "/base/" + string(dt)
}

func addendumDocName(projectID, name string) string {
	return projectID + "/addendum/" + name
}

type loadJob struct {
	docName  string
	path     string
	docType  change.DocType
	addendum string
}

type loaded struct {
	ref     project.FileRef
	data    []byte
	entries []index.Entry
}

// loadAll loads and indexes the files of jobs concurrently. On failure every
// document opened by the batch is closed again.
func (c *Controller) loadAll(ctx context.Context, jobs []loadJob) ([]*loaded, error) {
	results := make([]*loaded, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := c.loadFile(gctx, job.docName, job.path)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for i, res := range results {
			if res != nil {
				_ = c.registry.Close(owner, jobs[i].docName)
			}
		}
		return nil, err
	}
	return results, nil
}

// loadFile validates the PDF at path, registers it as docName (replacing any
// document of that name) and indexes it
func (c *Controller) loadFile(ctx context.Context, docName, path string) (*loaded, error) {
	abs, err := c.paths.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := c.validator.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(abs)
	if v := c.validator.ValidateBytes(name, data); !v.Valid {
		return nil, fmt.Errorf("%s: %s", name, v.Message)
	}

	if c.registry.Has(docName) {
		if err := c.registry.Close(owner, docName); err != nil {
			return nil, err
		}
	}
	doc, err := c.registry.Open(owner, docName, data)
	if err != nil {
		return nil, err
	}
	entries, err := c.indexer.BuildIndexCached(ctx, c.cache, data, doc)
	if err != nil {
		_ = c.registry.Close(owner, docName)
		return nil, fmt.Errorf("index %s: %w", name, err)
	}

	c.logger.Debug("workflow.loaded", "doc", docName, "pages", doc.PageCount())
	return &loaded{
		ref:     project.FileRef{Name: name, Path: abs, PageCount: doc.PageCount(), SHA256: index.Key(data)},
		data:    data,
		entries: entries,
	}, nil
}

// cloneRecord returns a copy of rec that shares nothing mutable with it
func cloneRecord(rec *project.Record) *project.Record {
	out := *rec
	out.ChangeLog = cloneChanges(rec.ChangeLog)
	out.QuestionsAndAnswers = append([]change.QAndAItem(nil), rec.QuestionsAndAnswers...)
	out.Addenda = append([]project.FileRef{}, rec.Addenda...)
	if rec.BaseDrawings != nil {
		ref := *rec.BaseDrawings
		out.BaseDrawings = &ref
	}
	if rec.BaseSpecs != nil {
		ref := *rec.BaseSpecs
		out.BaseSpecs = &ref
	}
	return &out
}

func cloneChanges(in []change.Instruction) []change.Instruction {
	out := make([]change.Instruction, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
