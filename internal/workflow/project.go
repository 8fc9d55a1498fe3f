package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/index"
	"github.com/a3tai/mcp-conform/internal/project"
)

// OpenRequest opens an existing project, or creates one when ProjectID is
// empty. Paths given replace the corresponding base document.
type OpenRequest struct {
	ProjectID    string
	ProjectName  string
	DrawingsPath string
	SpecsPath    string
}

func (r OpenRequest) basePath(dt change.DocType) string {
	if dt == change.Drawings {
		return r.DrawingsPath
	}
	return r.SpecsPath
}

// OpenProject loads the project and any new base documents, indexing drawings
// and specs concurrently, and returns a snapshot of the record
func (c *Controller) OpenProject(ctx context.Context, req OpenRequest) (*project.Record, error) {
	fresh := req.ProjectID == ""
	var sess *session
	if fresh {
		name := req.ProjectName
		if name == "" {
			name = "Untitled project"
		}
		sess = newSession(project.New(name))
		sess.mu.Lock()
	} else {
		var err error
		if sess, err = c.acquire(ctx, req.ProjectID); err != nil {
			return nil, err
		}
	}
	defer sess.mu.Unlock()

	rec := cloneRecord(sess.record)
	if req.ProjectName != "" {
		rec.ProjectName = req.ProjectName
	}

	var jobs []loadJob
	for _, dt := range change.DocTypes {
		if path := req.basePath(dt); path != "" {
			jobs = append(jobs, loadJob{docName: baseDocName(rec.ProjectID, dt), path: path, docType: dt})
		}
	}
	results, err := c.loadAll(ctx, jobs)
	if err != nil {
		return nil, err
	}
	for i, job := range jobs {
		rec.SetBase(job.docType, results[i].ref)
	}

	if err := c.commit(ctx, sess, rec); err != nil {
		return nil, err
	}
	for i, job := range jobs {
		sess.indexes[job.docType] = results[i].entries
		sess.files[job.docName] = results[i].data
	}
	if len(jobs) > 0 {
		c.scheduler.Forget(rec.ProjectID + "/")
	}
	if fresh {
		c.mu.Lock()
		c.sessions[rec.ProjectID] = sess
		c.mu.Unlock()
	}

	c.logger.Info("workflow.project_opened",
		"project_id", rec.ProjectID,
		"drawings_pages", rec.BaseDrawingsPageCount,
		"specs_pages", rec.BaseSpecsPageCount,
		"addenda", len(rec.Addenda),
	)
	return cloneRecord(rec), nil
}

// AddAddendum loads and indexes the addendum at path. An addendum with the same
// file name replaces the previous one.
func (c *Controller) AddAddendum(ctx context.Context, projectID, path string) (project.FileRef, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return project.FileRef{}, err
	}
	defer sess.mu.Unlock()

	abs, err := c.paths.Resolve(path)
	if err != nil {
		return project.FileRef{}, err
	}
	name := filepath.Base(abs)
	job := loadJob{docName: addendumDocName(projectID, name), path: abs, addendum: name}

	results, err := c.loadAll(ctx, []loadJob{job})
	if err != nil {
		return project.FileRef{}, err
	}
	res := results[0]
	rec := cloneRecord(sess.record)
	rec.AddAddendum(res.ref)

	if err := c.commit(ctx, sess, rec); err != nil {
		return project.FileRef{}, err
	}
	sess.addenda[job.addendum] = res.entries
	sess.files[job.docName] = res.data
	c.scheduler.Forget(projectID + "/")
	c.logger.Info("workflow.addendum_added", "project_id", projectID, "name", job.addendum, "pages", res.ref.PageCount)

	ref, _ := sess.record.Addendum(job.addendum)
	return ref, nil
}

// Reset drops the addenda, the change log and the answers; base documents stay loaded
func (c *Controller) Reset(ctx context.Context, projectID string) error {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return err
	}
	defer sess.mu.Unlock()

	addenda := sess.record.Addenda
	rec := cloneRecord(sess.record)
	rec.Reset()
	if err := c.commit(ctx, sess, rec); err != nil {
		return err
	}

	for _, a := range addenda {
		name := addendumDocName(projectID, a.Name)
		if err := c.registry.Close(owner, name); err != nil {
			c.logger.Warn("workflow.close_failed", "doc", name, "error", err)
		}
		delete(sess.files, name)
	}
	sess.addenda = make(map[string][]index.Entry)
	c.scheduler.Forget(projectID + "/")
	c.logger.Info("workflow.project_reset", "project_id", projectID)
	return nil
}

// Project returns a snapshot of the record of projectID
func (c *Controller) Project(ctx context.Context, projectID string) (*project.Record, error) {
	sess, err := c.acquire(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer sess.mu.Unlock()
	return cloneRecord(sess.record), nil
}

// documentName returns the name under which the page's source file is registered
func documentName(projectID string, dt change.DocType, addendumName string, fromAddendum bool) (string, error) {
	if !fromAddendum {
		return baseDocName(projectID, dt), nil
	}
	if addendumName == "" {
		return "", fmt.Errorf("page has no addendum name")
	}
	return addendumDocName(projectID, addendumName), nil
}
