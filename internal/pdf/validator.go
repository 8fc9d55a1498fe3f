package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Validator checks uploaded PDFs before they are handed to the engine
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a new PDF validator with the specified constraints
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{
		maxFileSize: maxFileSize,
	}
}

// ValidationResult describes an uploaded PDF
type ValidationResult struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	PageCount int    `json:"page_count"`
	Valid     bool   `json:"valid"`
	Message   string `json:"message,omitempty"`
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// ValidateBytes checks size limits, runs pdfcpu's relaxed validation and counts pages
func (v *Validator) ValidateBytes(name string, data []byte) *ValidationResult {
	result := &ValidationResult{Name: name, Size: int64(len(data))}

	if err := v.checkSize(name, int64(len(data))); err != nil {
		result.Message = err.Error()
		return result
	}

	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), []byte("%PDF-")) {
		result.Message = fmt.Sprintf("missing PDF header: %s", name)
		return result
	}

	conf := relaxedConfig()
	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		result.Message = fmt.Sprintf("invalid PDF file: %v", err)
		return result
	}

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		result.Message = fmt.Sprintf("cannot count pages: %v", err)
		return result
	}

	result.PageCount = pages
	result.Valid = true
	return result
}

// ReadFile loads a PDF from disk after the file-level checks
func (v *Validator) ReadFile(filePath string) ([]byte, error) {
	if filePath == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	fileInfo, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", filePath)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot access file: %w", err)
	}

	if fileInfo.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	if !strings.HasSuffix(strings.ToLower(filePath), ".pdf") {
		return nil, fmt.Errorf("file is not a PDF: %s", filePath)
	}

	if err := v.checkSize(filePath, fileInfo.Size()); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read file: %w", err)
	}
	return data, nil
}

func (v *Validator) checkSize(name string, size int64) error {
	if size == 0 {
		return fmt.Errorf("file is empty: %s", name)
	}
	if size > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)", size, v.maxFileSize)
	}
	return nil
}
