package descriptions

import "sort"

// Tool descriptions with practical examples, written for the model driving the server

const (
	// Project tools
	OpenProjectDescription = `Create a conformance project, or reopen an existing one, and load its base documents.

**When to use:** First step of every conformance session. Pass the base drawing set and/or the base project manual (specs).

**Why it's useful:** Each base PDF is validated, opened and indexed page by page so later tools can locate changes without re-reading the file.

**Examples:**
• New project: "Open Harbor School with drawings.pdf and specs.pdf"
• Resume: "Reopen project 6f1c… to continue reviewing changes"
• Swap a base: "Reopen the project with the reissued specs.pdf"

**Best practices:** Paths are resolved inside the server data directory. Keep the returned projectId for every other tool.`

	AddAddendumDescription = `Attach an addendum PDF to a project.

**When to use:** After opening a project, once per addendum issued for the bid set.

**Why it's useful:** The addendum is indexed and becomes both a source of change instructions and a source of replacement or added pages.

**Examples:**
• "Add addenda/Addendum-01.pdf to the Harbor School project"
• "Re-add Addendum-02.pdf after the architect reissued it"

**Best practices:** The file name (for example Addendum-01.pdf) becomes the addendum name that instructions refer to.`

	ProposeDescription = `Ask the language model to read every addendum and propose change instructions against the base documents.

**When to use:** After all addenda are attached. Can be re-run; new instructions are appended with fresh ids.

**Why it's useful:** Turns addendum prose ("Replace sheet A-101 in its entirety", "Revise 05 50 00 2.1.A to read…") into typed, reviewable instructions, then locates each one on a base page.

**Common workflows:**
1. conform_propose → conform_list_changes → conform_set_status → conform_export
2. conform_propose → conform_place_change for every unlocated id

**Best practices:** Every proposed instruction starts PENDING. Malformed model output is quarantined and reported, never silently dropped.`

	ListChangesDescription = `List the change log of a project with ids, types, statuses and located pages.

**When to use:** To review proposed instructions, or to find the ids to approve, reject or place.

**Examples:**
• "Show all pending spec changes"
• "Which changes are still unlocated?"

**Best practices:** Filter with status and doc_type to keep the listing short on large projects.`

	SetStatusDescription = `Approve, reject, or reset to pending one or more change instructions.

**When to use:** During review. Only APPROVED instructions take part in the conformed set.

**Examples:**
• "Approve changes 1, 2 and 4"
• "Reject change 7, it duplicates change 3"

**Best practices:** Ids that do not exist are reported back so nothing is silently skipped.`

	PlaceChangeDescription = `Set the base page an instruction applies to.

**When to use:** When the locator could not find a page for a change, or found the wrong one.

**Examples:**
• "Change 5 belongs on page 212 of the specs"
• "Insert the added sheet of change 9 after page 40"

**Best practices:** Page-add instructions take the page after which the new page is inserted; 0 means at the front.`

	SequenceDescription = `Compute the conformed page sequence of a base document from the approved instructions.

**When to use:** Before export, to check which pages are replaced, deleted and added, and where text edits land.

**Why it's useful:** Shows the final page order with the source of every page, plus warnings for approved changes that could not be applied.

**Best practices:** Run after every review pass; the sequence is recomputed from the change log each time.`

	AnnotatePageDescription = `Render one conformed page with its change annotations.

**When to use:** To inspect visually what a conformed page will look like, including highlight boxes and margin notes for text changes.

**Examples:**
• "Show conformed specs page 14"
• "Show conformed page 3 focused on change 2"

**Best practices:** Set render=false to get only the annotation geometry. focus_change adds the spotlight cut-out of one change.`

	ComparePageDescription = `Pixel-diff a replacement page against the original page it replaces.

**When to use:** To see what a replaced sheet actually changed when the addendum only says "reissued".

**Examples:**
• "Compare conformed drawings page 5 with the original"

**Best practices:** Only pages that replace an original page can be compared. The diff image highlights changed pixels in red.`

	TextDiffDescription = `Word-level diff of a text change instruction.

**When to use:** To review exactly which words a text replace, add or delete instruction changes.

**Best practices:** Whitespace is preserved, so joining equal and insert tokens gives the new text.`

	ExportDescription = `Write the conformed PDF, its edit plan, and the change log workbook.

**When to use:** Once review is complete.

**Why it's useful:** Produces the conformed set as a single PDF with pages replaced, deleted and added, a JSON edit plan for every text change, and an Excel change log for the record.

**Best practices:** Files are written to the exports directory of the data directory unless output_dir is given. Unplaced approved changes are reported.`

	VerifyDescription = `Ask the language model whether the project documents are consistent with a statement.

**When to use:** Spot checks during review, for example "Do the addenda change the roofing warranty period?"

**Best practices:** The answer is advisory; it never changes the change log.`

	ResetProjectDescription = `Remove all addenda and all change instructions from a project, keeping its base documents.

**When to use:** To start review over after addenda were attached by mistake.`

	ListProjectsDescription = `List stored projects with their change counts.

**When to use:** To find a projectId to reopen.`

	ServerInfoDescription = `Get server information, available tools, and the recommended conformance workflow.

**When to use:** First call in a new session, or when unsure which tool comes next.`
)

// ToolDescriptions maps tool names to their descriptions
var ToolDescriptions = map[string]string{
	"conform_open_project":  OpenProjectDescription,
	"conform_add_addendum":  AddAddendumDescription,
	"conform_propose":       ProposeDescription,
	"conform_list_changes":  ListChangesDescription,
	"conform_set_status":    SetStatusDescription,
	"conform_place_change":  PlaceChangeDescription,
	"conform_sequence":      SequenceDescription,
	"conform_annotate_page": AnnotatePageDescription,
	"conform_compare_page":  ComparePageDescription,
	"conform_text_diff":     TextDiffDescription,
	"conform_export":        ExportDescription,
	"conform_verify":        VerifyDescription,
	"conform_reset_project": ResetProjectDescription,
	"conform_list_projects": ListProjectsDescription,
	"conform_server_info":   ServerInfoDescription,
}

// GetToolDescription returns the description for a tool
func GetToolDescription(toolName string) string {
	if desc, exists := ToolDescriptions[toolName]; exists {
		return desc
	}
	return "Tool description not available"
}

// GetAllToolNames returns all tool names in sorted order
func GetAllToolNames() []string {
	names := make([]string, 0, len(ToolDescriptions))
	for name := range ToolDescriptions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns the first line of a tool description
func Summary(toolName string) string {
	desc := GetToolDescription(toolName)
	for i, r := range desc {
		if r == '\n' {
			return desc[:i]
		}
	}
	return desc
}
