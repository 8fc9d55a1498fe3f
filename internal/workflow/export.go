package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/export"
)

const (
	// DefaultExportDir is where exports go when a request names no directory
	DefaultExportDir = "exports"

	exportDirPerm  = 0o750
	exportFilePerm = 0o640
)

// ExportRequest names the document type to export and where to write it
type ExportRequest struct {
	ProjectID string
	DocType   change.DocType
	OutputDir string
}

// ExportResult lists the files written by Export
type ExportResult struct {
	PDFPath       string             `json:"pdf_path"`
	PlanPath      string             `json:"plan_path"`
	ChangeLogPath string             `json:"change_log_path"`
	Pages         int                `json:"pages"`
	Warnings      []assemble.Warning `json:"warnings,omitempty"`
	Unplaced      []int              `json:"unplaced,omitempty"`
}

// Export writes the conformed PDF of one document type, the text edit plan an
// external PDF writer applies to it, and the change log workbook
func (c *Controller) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	if !req.DocType.Valid() {
		return nil, fmt.Errorf("invalid document type: %s", req.DocType)
	}
	if req.OutputDir == "" {
		req.OutputDir = DefaultExportDir
	}
	dir, err := c.paths.Resolve(req.OutputDir)
	if err != nil {
		return nil, err
	}

	sess, err := c.acquire(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}
	rec := sess.record
	baseName := baseDocName(rec.ProjectID, req.DocType)
	src := export.Sources{Base: sess.files[baseName], Addenda: make(map[string][]byte, len(rec.Addenda))}
	for _, a := range rec.Addenda {
		src.Addenda[a.Name] = sess.files[addendumDocName(rec.ProjectID, a.Name)]
	}
	seq := sess.sequence(req.DocType)
	changes := cloneChanges(rec.ChangeLog)
	slug := slugify(rec.ProjectName)
	sess.mu.Unlock()

	if len(src.Base) == 0 {
		return nil, fmt.Errorf("project has no base %s document", req.DocType)
	}

	doc, release, err := c.registry.Acquire(baseName)
	if err != nil {
		return nil, err
	}
	plan, err := export.BuildPlan(doc, req.DocType, seq.Pages)
	release()
	if err != nil {
		return nil, fmt.Errorf("build edit plan: %w", err)
	}

	var pdfBuf bytes.Buffer
	if err := export.WriteConformedPDF(&pdfBuf, seq.Pages, src); err != nil {
		return nil, err
	}
	planJSON, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode edit plan: %w", err)
	}
	workbook, err := export.ChangeLogXLSX(changes)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, exportDirPerm); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	result := &ExportResult{
		PDFPath:       filepath.Join(dir, fmt.Sprintf("%s-%s-conformed.pdf", slug, req.DocType)),
		PlanPath:      filepath.Join(dir, fmt.Sprintf("%s-%s-edits.json", slug, req.DocType)),
		ChangeLogPath: filepath.Join(dir, slug+"-change-log.xlsx"),
		Pages:         len(seq.Pages),
		Warnings:      seq.Warnings,
	}
	for _, p := range plan.Pages {
		result.Unplaced = append(result.Unplaced, p.Unplaced...)
	}

	files := map[string][]byte{
		result.PDFPath:       pdfBuf.Bytes(),
		result.PlanPath:      planJSON,
		result.ChangeLogPath: workbook,
	}
	for path, data := range files {
		if err := os.WriteFile(path, data, exportFilePerm); err != nil {
			return nil, fmt.Errorf("write %s: %w", filepath.Base(path), err)
		}
	}

	c.logger.Info("workflow.exported",
		"project_id", req.ProjectID,
		"doc", req.DocType,
		"pages", result.Pages,
		"warnings", len(result.Warnings),
		"unplaced", len(result.Unplaced),
	)
	return result, nil
}

// slugify keeps letters and digits and joins the rest with single dashes
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "project"
	}
	return s
}
