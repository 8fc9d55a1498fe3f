package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a3tai/mcp-conform/internal/annotate"
	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/diff"
	"github.com/a3tai/mcp-conform/internal/index"
	"github.com/a3tai/mcp-conform/internal/locate"
	"github.com/a3tai/mcp-conform/internal/pdf"
	"github.com/a3tai/mcp-conform/internal/pdf/pdftest"
	"github.com/a3tai/mcp-conform/internal/pdf/security"
	"github.com/a3tai/mcp-conform/internal/project"
	"github.com/a3tai/mcp-conform/internal/proposal"
)

var specPages = [][]string{
	{"PROJECT MANUAL", "TABLE OF CONTENTS"},
	{"SECTION 03 30 00", "CAST-IN-PLACE CONCRETE"},
	{"SECTION 05 50 00", "METAL FABRICATIONS", "Railings shall be galvanized steel."},
	{"SECTION 08 71 00", "DOOR HARDWARE"},
	{"SECTION 09 90 00", "PAINTING"},
}

var addendumPages = [][]string{
	{"ADDENDUM NO. 1", "Replace section 08 71 00."},
	{"SECTION 08 71 00", "DOOR HARDWARE REVISED"},
}

type fakeProposer struct {
	proposal *proposal.Proposal
	err      error
	seen     proposal.Request
}

func (f *fakeProposer) ProposeChanges(_ context.Context, req proposal.Request) (*proposal.Proposal, error) {
	f.seen = req
	if f.err != nil {
		return nil, f.err
	}
	out := *f.proposal
	out.ChangeInstructions = cloneChanges(f.proposal.ChangeInstructions)
	return &out, nil
}

func addendumProposal() *proposal.Proposal {
	return &proposal.Proposal{
		ChangeInstructions: []change.Instruction{
			{ID: 1, ChangeType: change.PageReplace, Status: change.StatusPending, SourceOriginalDocument: change.Specs,
				AddendumName: "A1.pdf", SourcePage: change.IntPtr(2), SemanticSearchQuery: "SECTION 08 71 00"},
			{ID: 2, ChangeType: change.TextReplace, Status: change.StatusPending, SourceOriginalDocument: change.Specs,
				ExactTextToFind: "galvanized steel", NewTextToInsert: "stainless steel", LocationHint: "METAL FABRICATIONS"},
			{ID: 3, ChangeType: change.PageAdd, Status: change.StatusPending, SourceOriginalDocument: change.Specs,
				AddendumName: "A1.pdf", SourcePage: change.IntPtr(1), InsertAfterOriginalPageNumber: change.IntPtr(5)},
			{ID: 4, ChangeType: change.GeneralNote, Status: change.StatusPending, SourceOriginalDocument: change.Specs,
				Description: "Bid date unchanged."},
			{ID: 5, ChangeType: change.TextDelete, Status: change.StatusPending, SourceOriginalDocument: change.Specs,
				ExactTextToFind: "a clause nobody wrote"},
		},
		QuestionsAndAnswers: []change.QAndAItem{{Question: "Bid date?", Answer: "Unchanged."}},
	}
}

type fixture struct {
	dir      string
	store    *project.MemoryStore
	proposer *fakeProposer
	ctrl     *Controller
}

func newController(t *testing.T, dir string, store project.Store, proposer proposal.Proposer) *Controller {
	t.Helper()
	paths, err := security.NewPathValidator(dir)
	require.NoError(t, err)
	cache, err := index.NewCache(filepath.Join(dir, ".cache"))
	require.NoError(t, err)

	ctrl, err := New(Options{
		Registry:  pdf.NewRegistry(pdf.NewLedongthucEngine()),
		Validator: pdf.NewValidator(10 * 1024 * 1024),
		Paths:     paths,
		Indexer:   index.NewIndexer(0, nil),
		Cache:     cache,
		Locator:   locate.New(locate.DefaultParams(), nil),
		Proposer:  proposer,
		Store:     store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })
	return ctrl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specs.pdf"), pdftest.Build(specPages), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), pdftest.Build(addendumPages), 0o600))

	f := &fixture{dir: dir, store: project.NewMemoryStore(), proposer: &fakeProposer{proposal: addendumProposal()}}
	f.ctrl = newController(t, dir, f.store, f.proposer)
	return f
}

// proposed opens a project, adds the addendum and runs a proposal
func (f *fixture) proposed(t *testing.T) (string, *ProposeResult) {
	t.Helper()
	ctx := context.Background()
	rec, err := f.ctrl.OpenProject(ctx, OpenRequest{ProjectName: "Harbor School", SpecsPath: "specs.pdf"})
	require.NoError(t, err)
	_, err = f.ctrl.AddAddendum(ctx, rec.ProjectID, "A1.pdf")
	require.NoError(t, err)
	res, err := f.ctrl.Propose(ctx, rec.ProjectID)
	require.NoError(t, err)
	return rec.ProjectID, res
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestOpenProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.ctrl.OpenProject(ctx, OpenRequest{ProjectName: "Harbor School", SpecsPath: "specs.pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ProjectID)
	assert.Equal(t, 5, rec.BaseSpecsPageCount)
	assert.Equal(t, 0, rec.BaseDrawingsPageCount)
	require.NotNil(t, rec.BaseSpecs)
	assert.Equal(t, "specs.pdf", rec.BaseSpecs.Name)
	assert.Len(t, rec.BaseSpecs.SHA256, 64)

	stored, err := f.store.Get(ctx, rec.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, "Harbor School", stored.ProjectName)

	ref, err := f.ctrl.AddAddendum(ctx, rec.ProjectID, "A1.pdf")
	require.NoError(t, err)
	assert.Equal(t, 2, ref.PageCount)
	assert.Equal(t, project.KindAddendum, ref.Kind)

	_, err = f.ctrl.OpenProject(ctx, OpenRequest{SpecsPath: "../outside.pdf"})
	assert.Error(t, err)
	_, err = f.ctrl.OpenProject(ctx, OpenRequest{ProjectID: "no-such-project"})
	assert.ErrorIs(t, err, project.ErrNotFound)
}

func TestPropose(t *testing.T) {
	f := newFixture(t)
	id, res := f.proposed(t)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, res.Added)
	assert.Equal(t, []int{1, 2}, res.Locate.Located)
	assert.Equal(t, []int{5}, res.Locate.Unlocated)

	require.Len(t, f.proposer.seen.Addenda, 1)
	assert.Equal(t, "A1.pdf", f.proposer.seen.Addenda[0].Name)
	assert.Len(t, f.proposer.seen.Addenda[0].Pages, 2)
	assert.Contains(t, f.proposer.seen.Addenda[0].Pages[0], "ADDENDUM NO. 1")
	require.NotNil(t, f.proposer.seen.BaseSpecs)
	assert.Len(t, f.proposer.seen.BaseSpecs.Pages, 5)
	assert.Nil(t, f.proposer.seen.BaseDrawings)

	changes, err := f.ctrl.Changes(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, changes, 5)
	assert.Equal(t, 4, *changes[0].TargetPageNumber)
	assert.Equal(t, 3, *changes[1].OriginalPageNumber)
	assert.Equal(t, "A1.pdf", changes[1].AddendumName, "single addendum is the default provenance")
	assert.True(t, changes[4].IsUnlocated())

	// a second run continues the id sequence
	res, err = f.ctrl.Propose(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 7, 8, 9, 10}, res.Added)

	rec, err := f.ctrl.Project(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, rec.QuestionsAndAnswers, 2)
}

func TestPropose_ErrorsSurfaceVerbatim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.ctrl.OpenProject(ctx, OpenRequest{SpecsPath: "specs.pdf"})
	require.NoError(t, err)

	_, err = f.ctrl.Propose(ctx, rec.ProjectID)
	assert.Error(t, err, "proposing without addenda fails")

	_, err = f.ctrl.AddAddendum(ctx, rec.ProjectID, "A1.pdf")
	require.NoError(t, err)

	quota := errors.New("openai status 429: You exceeded your current quota")
	f.proposer.err = quota
	_, err = f.ctrl.Propose(ctx, rec.ProjectID)
	require.ErrorIs(t, err, quota)
	assert.Contains(t, err.Error(), "You exceeded your current quota")

	changes, err := f.ctrl.Changes(ctx, rec.ProjectID)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

// failingStore fails every Put while err is set
type failingStore struct {
	*project.MemoryStore
	err error
}

func (s *failingStore) Put(ctx context.Context, rec *project.Record) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryStore.Put(ctx, rec)
}

func TestStoreFailureLeavesSessionUnchanged(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "specs.pdf"), pdftest.Build(specPages), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A1.pdf"), pdftest.Build(addendumPages), 0o600))
	store := &failingStore{MemoryStore: project.NewMemoryStore()}
	ctrl := newController(t, dir, store, &fakeProposer{proposal: addendumProposal()})
	ctx := context.Background()

	rec, err := ctrl.OpenProject(ctx, OpenRequest{SpecsPath: "specs.pdf"})
	require.NoError(t, err)
	id := rec.ProjectID
	_, err = ctrl.AddAddendum(ctx, id, "A1.pdf")
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	store.err = diskFull

	_, err = ctrl.Propose(ctx, id)
	require.ErrorIs(t, err, diskFull)
	changes, err := ctrl.Changes(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, changes, "a failed save keeps nothing in memory")

	store.err = nil
	res, err := ctrl.Propose(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, res.Added, "retry proposes each instruction once")

	before, err := ctrl.Changes(ctx, id)
	require.NoError(t, err)
	store.err = diskFull

	_, err = ctrl.SetStatus(ctx, id, []int{1}, change.StatusApproved)
	require.ErrorIs(t, err, diskFull)
	_, err = ctrl.PlaceChange(ctx, id, 5, 2)
	require.ErrorIs(t, err, diskFull)
	require.ErrorIs(t, ctrl.Reset(ctx, id), diskFull)

	after, err := ctrl.Changes(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, change.StatusPending, after[0].Status)

	snapshot, err := ctrl.Project(ctx, id)
	require.NoError(t, err)
	assert.Len(t, snapshot.Addenda, 1, "failed reset keeps the addenda")

	stored, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.Len(t, stored.ChangeLog, 5)
	assert.Equal(t, change.StatusPending, stored.ChangeLog[0].Status)
}

func TestReviewAndSequence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)

	missing, err := f.ctrl.SetStatus(ctx, id, []int{1, 2, 3, 99}, change.StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, []int{99}, missing)

	_, err = f.ctrl.SetStatus(ctx, id, []int{1}, change.Status("MAYBE"))
	assert.Error(t, err)

	seq, err := f.ctrl.Sequence(ctx, id, change.Specs)
	require.NoError(t, err)
	assert.Empty(t, seq.Warnings)
	require.Len(t, seq.Pages, 6)

	type ref struct {
		src  assemble.Source
		page int
	}
	var got []ref
	for _, p := range seq.Pages {
		got = append(got, ref{p.Map.SourceDocument, p.Map.SourcePageNumber})
	}
	assert.Equal(t, []ref{
		{assemble.SourceOriginal, 1},
		{assemble.SourceOriginal, 2},
		{assemble.SourceOriginal, 3},
		{assemble.SourceAddendum, 2},
		{assemble.SourceOriginal, 5},
		{assemble.SourceAddendum, 1},
	}, got)
	require.Len(t, seq.Pages[2].ApprovedTextChanges, 1)
	assert.Equal(t, 2, seq.Pages[2].ApprovedTextChanges[0].ID)
	require.NotNil(t, seq.Pages[3].Map.OriginalPageForComparison)
	assert.Equal(t, 4, *seq.Pages[3].Map.OriginalPageForComparison)

	_, err = f.ctrl.Sequence(ctx, id, change.DocType("models"))
	assert.Error(t, err)
}

func TestPlaceChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)

	in, err := f.ctrl.PlaceChange(ctx, id, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, *in.OriginalPageNumber)

	_, err = f.ctrl.PlaceChange(ctx, id, 5, 6)
	assert.Error(t, err, "beyond the base document")
	_, err = f.ctrl.PlaceChange(ctx, id, 3, 2)
	assert.Error(t, err, "PAGE_ADD has no locatable page")
	_, err = f.ctrl.PlaceChange(ctx, id, 42, 1)
	assert.ErrorIs(t, err, ErrChangeNotFound)

	stored, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, *change.Find(stored.ChangeLog, 5).OriginalPageNumber)
}

func TestTextDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)

	tokens, err := f.ctrl.TextDiff(ctx, id, 2)
	require.NoError(t, err)
	assert.Equal(t, []diff.Token{
		{Op: diff.Delete, Text: "galvanized"},
		{Op: diff.Insert, Text: "stainless"},
		{Op: diff.Equal, Text: " steel"},
	}, tokens)

	tokens, err = f.ctrl.TextDiff(ctx, id, 5)
	require.NoError(t, err)
	assert.Equal(t, "a clause nobody wrote", diff.Side(tokens, diff.Delete))
	assert.Empty(t, diff.Side(tokens, diff.Insert))

	_, err = f.ctrl.TextDiff(ctx, id, 1)
	assert.Error(t, err)
	_, err = f.ctrl.TextDiff(ctx, id, 42)
	assert.ErrorIs(t, err, ErrChangeNotFound)
}

func TestAnnotatePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)
	_, err := f.ctrl.SetStatus(ctx, id, []int{1, 2, 3}, change.StatusApproved)
	require.NoError(t, err)

	view, err := f.ctrl.AnnotatePage(ctx, PageRequest{
		ProjectID: id, DocType: change.Specs, ConformedPage: 3, Render: true, FocusChangeID: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, view.Info.Map.SourcePageNumber)
	assert.NotEmpty(t, view.Geometry.Highlights)
	require.Len(t, view.Geometry.Notes, 1)
	assert.Equal(t, annotate.ThemeReplace, view.Geometry.Notes[0].Theme)
	assert.Len(t, view.Geometry.Leaders, 1)
	require.NotNil(t, view.Spotlight)
	assert.Equal(t, 2, view.Spotlight.ChangeID)

	require.NotNil(t, view.Image)
	assert.Equal(t, 612+240, view.Image.Bounds().Dx())
	assert.Equal(t, 792, view.Image.Bounds().Dy())

	// an added page carries no text changes
	view, err = f.ctrl.AnnotatePage(ctx, PageRequest{ProjectID: id, DocType: change.Specs, ConformedPage: 6})
	require.NoError(t, err)
	assert.Equal(t, assemble.SourceAddendum, view.Info.Map.SourceDocument)
	assert.Empty(t, view.Geometry.Notes)
	assert.Nil(t, view.Image)

	_, err = f.ctrl.AnnotatePage(ctx, PageRequest{ProjectID: id, DocType: change.Specs, ConformedPage: 7})
	assert.ErrorIs(t, err, pdf.ErrInvalidPage)
}

func TestComparePage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)
	_, err := f.ctrl.SetStatus(ctx, id, []int{1}, change.StatusApproved)
	require.NoError(t, err)

	cmp, err := f.ctrl.ComparePage(ctx, PageRequest{ProjectID: id, DocType: change.Specs, ConformedPage: 4, Scale: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 4, cmp.OriginalPage)
	assert.Equal(t, "A1.pdf", cmp.AddendumName)
	assert.Equal(t, 2, cmp.AddendumPage)
	assert.Positive(t, cmp.DiffPixels, "REVISED is drawn only on the replacement")
	assert.Equal(t, 306*396, cmp.Result.TotalPixels)

	_, err = f.ctrl.ComparePage(ctx, PageRequest{ProjectID: id, DocType: change.Specs, ConformedPage: 3})
	assert.Error(t, err)
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)
	_, err := f.ctrl.SetStatus(ctx, id, []int{1, 2, 3}, change.StatusApproved)
	require.NoError(t, err)

	res, err := f.ctrl.Export(ctx, ExportRequest{ProjectID: id, DocType: change.Specs})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Pages)
	assert.Empty(t, res.Unplaced)
	assert.Equal(t, filepath.Join(f.dir, "exports", "harbor-school-specs-conformed.pdf"), res.PDFPath)

	data, err := os.ReadFile(res.PDFPath)
	require.NoError(t, err)
	doc, err := pdf.NewLedongthucEngine().LoadDocument(data)
	require.NoError(t, err)
	defer doc.Close()
	assert.Equal(t, 6, doc.PageCount())

	for _, path := range []string{res.PlanPath, res.ChangeLogPath} {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = f.ctrl.Export(ctx, ExportRequest{ProjectID: id, DocType: change.Drawings})
	assert.Error(t, err, "no base drawings")
	_, err = f.ctrl.Export(ctx, ExportRequest{ProjectID: id, DocType: change.Specs, OutputDir: "/tmp/elsewhere"})
	assert.Error(t, err)
}

func TestRestoreFromStore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)
	_, err := f.ctrl.SetStatus(ctx, id, []int{1, 3}, change.StatusApproved)
	require.NoError(t, err)
	_, err = f.ctrl.SetStatus(ctx, id, []int{2}, change.StatusRejected)
	require.NoError(t, err)

	// a second controller over the same store reloads the files from the record
	other := newController(t, f.dir, f.store, nil)
	rec, err := other.Project(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, change.StatusApproved, change.Find(rec.ChangeLog, 1).Status)
	assert.Equal(t, change.StatusRejected, change.Find(rec.ChangeLog, 2).Status)

	seq, err := other.Sequence(ctx, id, change.Specs)
	require.NoError(t, err)
	assert.Len(t, seq.Pages, 6)

	view, err := other.AnnotatePage(ctx, PageRequest{ProjectID: id, DocType: change.Specs, ConformedPage: 4})
	require.NoError(t, err)
	assert.Equal(t, "A1.pdf", view.Info.Map.AddendumName)

	_, err = other.Propose(ctx, id)
	assert.Error(t, err, "no proposer configured")
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id, _ := f.proposed(t)

	require.NoError(t, f.ctrl.Reset(ctx, id))

	rec, err := f.ctrl.Project(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, rec.ChangeLog)
	assert.Empty(t, rec.Addenda)
	assert.Equal(t, 5, rec.BaseSpecsPageCount)

	seq, err := f.ctrl.Sequence(ctx, id, change.Specs)
	require.NoError(t, err)
	assert.Len(t, seq.Pages, 5)
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Harbor School":      "harbor-school",
		"  Phase 2 / Gym!  ": "phase-2-gym",
		"":                   "project",
		"***":                "project",
	}
	for in, want := range tests {
		assert.Equal(t, want, slugify(in), in)
	}
}
