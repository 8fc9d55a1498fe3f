package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/a3tai/mcp-conform/internal/assemble"
)

// Sources resolves the bytes of the files a conformed sequence draws from
type Sources struct {
	Base    []byte
	Addenda map[string][]byte
}

func (s Sources) bytesFor(item assemble.PageMapItem) ([]byte, error) {
	if item.SourceDocument == assemble.SourceOriginal {
		if len(s.Base) == 0 {
			return nil, errors.New("base document bytes are missing")
		}
		return s.Base, nil
	}
	data, ok := s.Addenda[item.AddendumName]
	if !ok {
		return nil, fmt.Errorf("addendum %q is not loaded", item.AddendumName)
	}
	return data, nil
}

func exportConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// WriteConformedPDF writes the pages of the sequence, in order, as one PDF.
// Consecutive pages from the same file are collected in a single pass.
func WriteConformedPDF(w io.Writer, pages []assemble.ConformedPageInfo, src Sources) error {
	if len(pages) == 0 {
		return errors.New("conformed sequence is empty")
	}

	type run struct {
		data  []byte
		pages []string
	}
	var runs []run
	var lastKey string
	for _, p := range pages {
		data, err := src.bytesFor(p.Map)
		if err != nil {
			return fmt.Errorf("conformed page %d: %w", p.ConformedPageNumber, err)
		}
		key := string(p.Map.SourceDocument) + "/" + p.Map.AddendumName
		if len(runs) == 0 || key != lastKey {
			runs = append(runs, run{data: data})
			lastKey = key
		}
		last := &runs[len(runs)-1]
		last.pages = append(last.pages, strconv.Itoa(p.Map.SourcePageNumber))
	}

	conf := exportConfig()
	parts := make([]io.ReadSeeker, 0, len(runs))
	for i, r := range runs {
		var buf bytes.Buffer
		if err := api.Collect(bytes.NewReader(r.data), &buf, r.pages, conf); err != nil {
			return fmt.Errorf("collect pages %v of part %d: %w", r.pages, i+1, err)
		}
		parts = append(parts, bytes.NewReader(buf.Bytes()))
	}

	if len(parts) == 1 {
		_, err := io.Copy(w, parts[0])
		return err
	}
	if err := api.MergeRaw(parts, w, false, conf); err != nil {
		return fmt.Errorf("merge conformed pages: %w", err)
	}
	return nil
}
