package mcp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mattn/go-runewidth"

	"github.com/a3tai/mcp-conform/internal/assemble"
	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/descriptions"
	"github.com/a3tai/mcp-conform/internal/diff"
	"github.com/a3tai/mcp-conform/internal/workflow"
)

// Tool names
const (
	ToolOpenProject  = "conform_open_project"
	ToolAddAddendum  = "conform_add_addendum"
	ToolPropose      = "conform_propose"
	ToolListChanges  = "conform_list_changes"
	ToolSetStatus    = "conform_set_status"
	ToolPlaceChange  = "conform_place_change"
	ToolSequence     = "conform_sequence"
	ToolAnnotatePage = "conform_annotate_page"
	ToolComparePage  = "conform_compare_page"
	ToolTextDiff     = "conform_text_diff"
	ToolExport       = "conform_export"
	ToolVerify       = "conform_verify"
	ToolReset        = "conform_reset_project"
	ToolListProjects = "conform_list_projects"
	ToolServerInfo   = "conform_server_info"
)

// descriptionWidth is the column width of descriptions in change listings
const descriptionWidth = 60

func projectParam() mcp.ToolOption {
	return mcp.WithString("project_id", mcp.Required(), mcp.Description("Project id returned by conform_open_project"))
}

func docTypeParam(required bool) mcp.ToolOption {
	opts := []mcp.PropertyOption{
		mcp.Description("Base document type"),
		mcp.Enum(string(change.Drawings), string(change.Specs)),
	}
	if required {
		opts = append(opts, mcp.Required())
	}
	return mcp.WithString("doc_type", opts...)
}

func conformedPageParam() mcp.ToolOption {
	return mcp.WithNumber("page", mcp.Required(), mcp.Description("1-based conformed page number"))
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(ToolOpenProject,
		mcp.WithDescription(descriptions.OpenProjectDescription),
		mcp.WithString("project_id", mcp.Description("Existing project to reopen; omit to create a new project")),
		mcp.WithString("name", mcp.Description("Project name for a new project")),
		mcp.WithString("drawings_path", mcp.Description("Base drawing set PDF, relative to the data directory")),
		mcp.WithString("specs_path", mcp.Description("Base project manual PDF, relative to the data directory")),
	), s.handleOpenProject)

	s.mcpServer.AddTool(mcp.NewTool(ToolAddAddendum,
		mcp.WithDescription(descriptions.AddAddendumDescription),
		projectParam(),
		mcp.WithString("path", mcp.Required(), mcp.Description("Addendum PDF, relative to the data directory")),
	), s.handleAddAddendum)

	s.mcpServer.AddTool(mcp.NewTool(ToolPropose,
		mcp.WithDescription(descriptions.ProposeDescription),
		projectParam(),
	), s.handlePropose)

	s.mcpServer.AddTool(mcp.NewTool(ToolListChanges,
		mcp.WithDescription(descriptions.ListChangesDescription),
		projectParam(),
		docTypeParam(false),
		mcp.WithString("status",
			mcp.Description("Only list changes with this status"),
			mcp.Enum(string(change.StatusPending), string(change.StatusApproved), string(change.StatusRejected)),
		),
	), s.handleListChanges)

	s.mcpServer.AddTool(mcp.NewTool(ToolSetStatus,
		mcp.WithDescription(descriptions.SetStatusDescription),
		projectParam(),
		mcp.WithArray("ids", mcp.Required(), mcp.Description("Change ids"), mcp.Items(map[string]any{"type": "integer"})),
		mcp.WithString("status", mcp.Required(),
			mcp.Enum(string(change.StatusPending), string(change.StatusApproved), string(change.StatusRejected)),
		),
	), s.handleSetStatus)

	s.mcpServer.AddTool(mcp.NewTool(ToolPlaceChange,
		mcp.WithDescription(descriptions.PlaceChangeDescription),
		projectParam(),
		mcp.WithNumber("change_id", mcp.Required(), mcp.Description("Change id")),
		mcp.WithNumber("page", mcp.Required(), mcp.Description("Base page number; for page adds, the page to insert after (0 = front)")),
	), s.handlePlaceChange)

	s.mcpServer.AddTool(mcp.NewTool(ToolSequence,
		mcp.WithDescription(descriptions.SequenceDescription),
		projectParam(),
		docTypeParam(true),
	), s.handleSequence)

	s.mcpServer.AddTool(mcp.NewTool(ToolAnnotatePage,
		mcp.WithDescription(descriptions.AnnotatePageDescription),
		projectParam(),
		docTypeParam(true),
		conformedPageParam(),
		mcp.WithNumber("scale", mcp.Description("Render scale, 1.0 = 72 dpi"), mcp.DefaultNumber(workflow.DefaultScale)),
		mcp.WithBoolean("render", mcp.Description("Return a PNG of the annotated page"), mcp.DefaultBool(true)),
		mcp.WithNumber("focus_change", mcp.Description("Change id to spotlight")),
	), s.handleAnnotatePage)

	s.mcpServer.AddTool(mcp.NewTool(ToolComparePage,
		mcp.WithDescription(descriptions.ComparePageDescription),
		projectParam(),
		docTypeParam(true),
		conformedPageParam(),
		mcp.WithNumber("scale", mcp.Description("Render scale, 1.0 = 72 dpi"), mcp.DefaultNumber(workflow.DefaultScale)),
	), s.handleComparePage)

	s.mcpServer.AddTool(mcp.NewTool(ToolTextDiff,
		mcp.WithDescription(descriptions.TextDiffDescription),
		projectParam(),
		mcp.WithNumber("change_id", mcp.Required(), mcp.Description("Id of a text change")),
	), s.handleTextDiff)

	s.mcpServer.AddTool(mcp.NewTool(ToolExport,
		mcp.WithDescription(descriptions.ExportDescription),
		projectParam(),
		docTypeParam(true),
		mcp.WithString("output_dir", mcp.Description("Output directory, relative to the data directory")),
	), s.handleExport)

	s.mcpServer.AddTool(mcp.NewTool(ToolVerify,
		mcp.WithDescription(descriptions.VerifyDescription),
		projectParam(),
		mcp.WithString("question", mcp.Required(), mcp.Description("Statement or question to check against the documents")),
	), s.handleVerify)

	s.mcpServer.AddTool(mcp.NewTool(ToolReset,
		mcp.WithDescription(descriptions.ResetProjectDescription),
		projectParam(),
	), s.handleReset)

	s.mcpServer.AddTool(mcp.NewTool(ToolListProjects,
		mcp.WithDescription(descriptions.ListProjectsDescription),
	), s.handleListProjects)

	s.mcpServer.AddTool(mcp.NewTool(ToolServerInfo,
		mcp.WithDescription(descriptions.ServerInfoDescription),
	), s.handleServerInfo)
}

// Handler functions

func (s *Server) handleOpenProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := workflow.OpenRequest{
		ProjectID:    request.GetString("project_id", ""),
		ProjectName:  request.GetString("name", ""),
		DrawingsPath: request.GetString("drawings_path", ""),
		SpecsPath:    request.GetString("specs_path", ""),
	}
	rec, err := s.controller.OpenProject(ctx, req)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(fmt.Sprintf("Project %q (%s): %d drawing pages, %d spec pages, %d addenda",
		rec.ProjectName, rec.ProjectID, rec.BaseDrawingsPageCount, rec.BaseSpecsPageCount, len(rec.Addenda)), rec)
}

func (s *Server) handleAddAddendum(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	path, err := request.RequireString("path")
	if err != nil {
		return toolError(err), nil
	}
	ref, err := s.controller.AddAddendum(ctx, projectID, path)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(fmt.Sprintf("Added addendum %s (%d pages)", ref.Name, ref.PageCount), ref)
}

func (s *Server) handlePropose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	res, err := s.controller.Propose(ctx, projectID)
	if err != nil {
		return toolError(err), nil
	}
	summary := fmt.Sprintf("Proposed %d changes: %d located, %d need a page",
		len(res.Added), len(res.Locate.Located), len(res.Locate.Unlocated))
	if len(res.Quarantined) > 0 {
		summary += fmt.Sprintf(", %d malformed entries quarantined", len(res.Quarantined))
	}
	return jsonResult(summary, res)
}

func (s *Server) handleListChanges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	docType := change.DocType(request.GetString("doc_type", ""))
	if docType != "" && !docType.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid doc_type: %s", docType)), nil
	}
	status := change.Status(strings.ToUpper(request.GetString("status", "")))
	if status != "" && !status.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("invalid status: %s", status)), nil
	}

	changes, err := s.controller.Changes(ctx, projectID)
	if err != nil {
		return toolError(err), nil
	}
	filtered := changes[:0]
	for _, in := range changes {
		if (docType == "" || in.SourceOriginalDocument == docType) && (status == "" || in.Status == status) {
			filtered = append(filtered, in)
		}
	}
	if len(filtered) == 0 {
		return mcp.NewToolResultText("No changes match"), nil
	}
	return mcp.NewToolResultText(formatChanges(filtered)), nil
}

func (s *Server) handleSetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	ids, err := intSlice(request.GetArguments()["ids"])
	if err != nil {
		return toolError(err), nil
	}
	raw, err := request.RequireString("status")
	if err != nil {
		return toolError(err), nil
	}
	status := change.Status(strings.ToUpper(raw))

	missing, err := s.controller.SetStatus(ctx, projectID, ids, status)
	if err != nil {
		return toolError(err), nil
	}
	text := fmt.Sprintf("Set %d change(s) to %s", len(ids)-len(missing), status)
	if len(missing) > 0 {
		text += fmt.Sprintf("\nNot found: %v", missing)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handlePlaceChange(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	changeID, err := request.RequireInt("change_id")
	if err != nil {
		return toolError(err), nil
	}
	page, err := request.RequireInt("page")
	if err != nil {
		return toolError(err), nil
	}
	in, err := s.controller.PlaceChange(ctx, projectID, changeID, page)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(fmt.Sprintf("Change %d placed on page %d", changeID, page), in)
}

func (s *Server) handleSequence(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, docType, err := projectAndDocType(request)
	if err != nil {
		return toolError(err), nil
	}
	res, err := s.controller.Sequence(ctx, projectID, docType)
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(formatSequence(docType, res.Pages, res.Warnings)), nil
}

func (s *Server) handleAnnotatePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := pageRequest(request)
	if err != nil {
		return toolError(err), nil
	}
	req.Render = request.GetBool("render", true)
	req.FocusChangeID = request.GetInt("focus_change", 0)

	view, err := s.controller.AnnotatePage(ctx, req)
	if err != nil {
		return toolError(err), nil
	}
	meta, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return toolError(err), nil
	}
	summary := fmt.Sprintf("Conformed %s page %d: %s page %d (%s)\n\n%s",
		req.DocType, req.ConformedPage, view.Info.Map.SourceDocument, view.Info.Map.SourcePageNumber, view.Info.Map.Reason, meta)
	if view.Image == nil {
		return mcp.NewToolResultText(summary), nil
	}
	return imageResult(summary, view.Image)
}

func (s *Server) handleComparePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, err := pageRequest(request)
	if err != nil {
		return toolError(err), nil
	}
	cmp, err := s.controller.ComparePage(ctx, req)
	if err != nil {
		return toolError(err), nil
	}
	summary := fmt.Sprintf("Page %d of %s replaces original page %d: %d pixels differ (%.2f%%)",
		cmp.AddendumPage, cmp.AddendumName, cmp.OriginalPage, cmp.DiffPixels, cmp.Ratio*100)
	return imageResult(summary, cmp.Result.Image)
}

func (s *Server) handleTextDiff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	changeID, err := request.RequireInt("change_id")
	if err != nil {
		return toolError(err), nil
	}
	tokens, err := s.controller.TextDiff(ctx, projectID, changeID)
	if err != nil {
		return toolError(err), nil
	}
	var b strings.Builder
	for _, tok := range tokens {
		switch tok.Op {
		case diff.Insert:
			fmt.Fprintf(&b, "{+%s+}", tok.Text)
		case diff.Delete:
			fmt.Fprintf(&b, "[-%s-]", tok.Text)
		default:
			b.WriteString(tok.Text)
		}
	}
	return jsonResult(b.String(), tokens)
}

func (s *Server) handleExport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, docType, err := projectAndDocType(request)
	if err != nil {
		return toolError(err), nil
	}
	res, err := s.controller.Export(ctx, workflow.ExportRequest{
		ProjectID: projectID,
		DocType:   docType,
		OutputDir: request.GetString("output_dir", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	summary := fmt.Sprintf("Exported %d conformed pages to %s", res.Pages, res.PDFPath)
	if len(res.Unplaced) > 0 {
		summary += fmt.Sprintf("\nApproved changes without a page: %v", res.Unplaced)
	}
	return jsonResult(summary, res)
}

func (s *Server) handleVerify(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	question, err := request.RequireString("question")
	if err != nil {
		return toolError(err), nil
	}
	res, err := s.controller.Verify(ctx, projectID, question)
	if err != nil {
		return toolError(err), nil
	}
	verdict := "Inconsistent"
	if res.IsConsistent {
		verdict = "Consistent"
	}
	return mcp.NewToolResultText(verdict + ": " + res.Reasoning), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return toolError(err), nil
	}
	if err := s.controller.Reset(ctx, projectID); err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText("Project " + projectID + " reset: addenda and changes removed"), nil
}

func (s *Server) handleListProjects(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := s.controller.ListProjects(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if len(projects) == 0 {
		return mcp.NewToolResultText("No projects stored"), nil
	}
	return jsonResult(fmt.Sprintf("%d project(s)", len(projects)), projects)
}

func (s *Server) handleServerInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatServerInfo()), nil
}

// Request helpers

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(summary string, v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(summary + "\n\n" + string(data)), nil
}

func imageResult(summary string, img image.Image) (*mcp.CallToolResult, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return toolError(fmt.Errorf("encode png: %w", err)), nil
	}
	return mcp.NewToolResultImage(summary, base64.StdEncoding.EncodeToString(buf.Bytes()), "image/png"), nil
}

func projectAndDocType(request mcp.CallToolRequest) (string, change.DocType, error) {
	projectID, err := request.RequireString("project_id")
	if err != nil {
		return "", "", err
	}
	raw, err := request.RequireString("doc_type")
	if err != nil {
		return "", "", err
	}
	docType := change.DocType(strings.ToLower(raw))
	if !docType.Valid() {
		return "", "", fmt.Errorf("invalid doc_type: %s", raw)
	}
	return projectID, docType, nil
}

func pageRequest(request mcp.CallToolRequest) (workflow.PageRequest, error) {
	projectID, docType, err := projectAndDocType(request)
	if err != nil {
		return workflow.PageRequest{}, err
	}
	page, err := request.RequireInt("page")
	if err != nil {
		return workflow.PageRequest{}, err
	}
	return workflow.PageRequest{
		ProjectID:     projectID,
		DocType:       docType,
		ConformedPage: page,
		Scale:         request.GetFloat("scale", workflow.DefaultScale),
	}, nil
}

// intSlice accepts the JSON number arrays clients send for id lists
func intSlice(v any) ([]int, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, errors.New("ids must be an array of integers")
	}
	if len(items) == 0 {
		return nil, errors.New("ids cannot be empty")
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		switch n := item.(type) {
		case float64:
			if n != float64(int(n)) {
				return nil, fmt.Errorf("id %v is not an integer", n)
			}
			out = append(out, int(n))
		case int:
			out = append(out, n)
		default:
			return nil, fmt.Errorf("id %v is not a number", item)
		}
	}
	return out, nil
}

// Formatting methods

func formatChanges(changes []change.Instruction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d change(s)\n\n", len(changes))
	for _, in := range changes {
		page := "unlocated"
		if p, ok := in.LocatedPage(); ok {
			page = fmt.Sprintf("page %d", p)
		} else if !in.NeedsLocation() {
			page = "-"
		}
		desc := in.Description
		if desc == "" {
			desc = in.ExactTextToFind
		}
		desc = strings.Join(strings.Fields(desc), " ")
		fmt.Fprintf(&b, "#%-4d %-13s %-9s %-8s %-10s %s\n",
			in.ID, in.ChangeType, in.Status, in.SourceOriginalDocument, page,
			runewidth.Truncate(desc, descriptionWidth, "…"))
	}
	return b.String()
}

func formatSequence(docType change.DocType, pages []assemble.ConformedPageInfo, warnings []assemble.Warning) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Conformed %s: %d page(s)\n\n", docType, len(pages))
	for _, p := range pages {
		src := fmt.Sprintf("original p.%d", p.Map.SourcePageNumber)
		if p.Map.AddendumName != "" {
			src = fmt.Sprintf("%s p.%d", p.Map.AddendumName, p.Map.SourcePageNumber)
		}
		fmt.Fprintf(&b, "%4d  %-24s %s", p.ConformedPageNumber, src, p.Map.Reason)
		if n := len(p.ApprovedTextChanges); n > 0 {
			fmt.Fprintf(&b, " [%d text change(s)]", n)
		}
		b.WriteString("\n")
	}
	if len(warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "  change %d: %s\n", w.ChangeID, w.Message)
		}
	}
	return b.String()
}

func (s *Server) formatServerInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s v%s\n", s.config.ServerName, s.config.Version)
	fmt.Fprintf(&b, "Data directory: %s\n", s.controller.DataDir())
	fmt.Fprintf(&b, "Max file size: %d MB\n", s.config.MaxFileSize/(1024*1024))
	fmt.Fprintf(&b, "Model: %s\n\n", s.config.LLMModel)

	b.WriteString("Available tools:\n")
	for _, name := range descriptions.GetAllToolNames() {
		fmt.Fprintf(&b, "  • %s: %s\n", name, descriptions.Summary(name))
	}

	b.WriteString("\nWorkflow:\n")
	b.WriteString("  1. conform_open_project with the base drawings and/or specs\n")
	b.WriteString("  2. conform_add_addendum for each addendum\n")
	b.WriteString("  3. conform_propose, then conform_list_changes\n")
	b.WriteString("  4. conform_place_change for unlocated changes, conform_set_status to approve\n")
	b.WriteString("  5. conform_sequence and conform_annotate_page to check the result\n")
	b.WriteString("  6. conform_export\n")
	return b.String()
}
