// Package locate maps change instructions that lack a page number onto the most
// likely page of the indexed base document.
package locate

import (
	"errors"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/a3tai/mcp-conform/internal/change"
	"github.com/a3tai/mcp-conform/internal/index"
)

// Params holds the scoring constants. The defaults were chosen empirically and
// are exposed through configuration for tuning.
type Params struct {
	ExactScore    float64 `json:"exact_score"`
	BaseScore     float64 `json:"base_score"`
	StartBonus    float64 `json:"start_bonus"`
	DensityWeight float64 `json:"density_weight"`
	MinScore      float64 `json:"min_score"`
	IndexPenalty  float64 `json:"index_penalty"`
}

// DefaultParams returns the stock scoring constants
func DefaultParams() Params {
	return Params{
		ExactScore:    100,
		BaseScore:     50,
		StartBonus:    20,
		DensityWeight: 30,
		MinScore:      15,
		IndexPenalty:  0.1,
	}
}

// Validate rejects parameter sets that would make scoring meaningless
func (p Params) Validate() error {
	if p.BaseScore <= 0 || p.ExactScore <= 0 {
		return errors.New("exact and base scores must be positive")
	}
	if p.StartBonus < 0 || p.DensityWeight < 0 || p.MinScore < 0 {
		return errors.New("start bonus, density weight and minimum score cannot be negative")
	}
	if p.IndexPenalty <= 0 || p.IndexPenalty > 1 {
		return errors.New("index penalty must be in (0, 1]")
	}
	return nil
}

// Mode selects how page text and search terms are normalized
type Mode int

const (
	// Strict keeps only [a-z0-9], for sheet-number matching
	Strict Mode = iota
	// Loose lowercases and collapses whitespace, for prose matching
	Loose
)

// Normalize applies mode to s
func Normalize(s string, mode Mode) string {
	if mode == Strict {
		var b strings.Builder
		b.Grow(len(s))
		for _, r := range strings.ToLower(s) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				b.WriteRune(r)
			}
		}
		return b.String()
	}
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), unicode.IsSpace), " ")
}

// SearchTerms returns the instruction's search terms in priority order, empties dropped
func SearchTerms(in *change.Instruction) []string {
	candidates := []string{in.SemanticSearchQuery, in.LocationHint, in.SpecSection, in.ExactTextToFind}
	terms := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			terms = append(terms, c)
		}
	}
	return terms
}

// ModeFor returns the normalization mode for an instruction kind
func ModeFor(in *change.Instruction) Mode {
	if in.IsPageChange() {
		return Strict
	}
	return Loose
}

// Locator scores pages against instructions
type Locator struct {
	params Params
	logger *slog.Logger
}

// New creates a locator
func New(params Params, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{params: params, logger: logger}
}

// Params returns the locator's scoring constants
func (l *Locator) Params() Params {
	return l.params
}

// MatchScore scores one normalized term against one normalized page text
func (l *Locator) MatchScore(pageText, term string) float64 {
	if pageText == "" || term == "" {
		return 0
	}
	if pageText == term {
		return l.params.ExactScore
	}
	idx := strings.Index(pageText, term)
	if idx < 0 {
		return 0
	}
	score := l.params.BaseScore
	if idx == 0 {
		score += l.params.StartBonus
	}
	// Density is measured in characters so multi-byte text is not skewed
	score += l.params.DensityWeight * float64(utf8.RuneCountInString(term)) / float64(utf8.RuneCountInString(pageText))
	return score
}

// PageScore is the aggregate score of one page for one instruction
type PageScore struct {
	PageNumber int     `json:"page_number"`
	Score      float64 `json:"score"`
}

// ScorePages scores every page of idx for in, in index order
func (l *Locator) ScorePages(in *change.Instruction, idx []index.Entry) []PageScore {
	terms := SearchTerms(in)
	mode := ModeFor(in)
	normTerms := make([]string, len(terms))
	for i, t := range terms {
		normTerms[i] = Normalize(t, mode)
	}

	n := float64(len(normTerms))
	scores := make([]PageScore, 0, len(idx))
	for _, entry := range idx {
		text := Normalize(entry.FullText, mode)
		total := 0.0
		for i, term := range normTerms {
			total += l.MatchScore(text, term) * (n - float64(i)) / n
		}
		if entry.IsLikelyIndexPage && !in.IsPageChange() {
			total *= l.params.IndexPenalty
		}
		scores = append(scores, PageScore{PageNumber: entry.PageNumber, Score: total})
	}
	return scores
}

// best returns the first page with the strictly highest score, provided that
// score is strictly above minScore.
func best(scores []PageScore, minScore float64) (int, float64, bool) {
	bestPage, bestScore := 0, 0.0
	found := false
	for _, s := range scores {
		if !found || s.Score > bestScore {
			bestPage, bestScore, found = s.PageNumber, s.Score, true
		}
	}
	if !found || bestScore <= minScore {
		return 0, bestScore, false
	}
	return bestPage, bestScore, true
}

// Locate returns the best page for in, or false when nothing clears the minimum score
func (l *Locator) Locate(in *change.Instruction, idx []index.Entry) (int, bool) {
	if len(SearchTerms(in)) == 0 {
		return 0, false
	}
	page, _, ok := best(l.ScorePages(in, idx), l.params.MinScore)
	return page, ok
}

// Report summarizes a LocateAll run
type Report struct {
	Located   []int `json:"located"`
	Unlocated []int `json:"unlocated"`
	Skipped   []int `json:"skipped,omitempty"`
}

// LocateAll fills the page field of every unlocated instruction in place, each
// document type scored only against its own index. Instructions that already have
// a page, or whose document has not been indexed, are left untouched.
func (l *Locator) LocateAll(instructions []change.Instruction, indexes map[change.DocType][]index.Entry) Report {
	var report Report
	for i := range instructions {
		in := &instructions[i]
		if !in.NeedsLocation() || !in.IsUnlocated() {
			continue
		}
		idx, ok := indexes[in.SourceOriginalDocument]
		if !ok {
			report.Skipped = append(report.Skipped, in.ID)
			continue
		}

		page, found := l.Locate(in, idx)
		if !found {
			l.logger.Info("locate.unmapped", "id", in.ID, "type", in.ChangeType, "doc", in.SourceOriginalDocument)
			report.Unlocated = append(report.Unlocated, in.ID)
			continue
		}
		if err := in.SetLocatedPage(page); err != nil {
			report.Unlocated = append(report.Unlocated, in.ID)
			continue
		}
		l.logger.Debug("locate.mapped", "id", in.ID, "page", page)
		report.Located = append(report.Located, in.ID)
	}
	return report
}
