package pdf

import (
	"bytes"
	"fmt"

	"github.com/spherical/lesson-digitizer/internal/domain"
)

// Files larger than this are rejected before rendering.
const maxSize = 100 * 1024 * 1024 // 100MB

var pdfMagic = []byte("%PDF-")

// Validator provides input validation for PDF documents
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePDFBytes checks that data looks like a PDF document
func (v *Validator) ValidatePDFBytes(data []byte) error {
	if len(data) == 0 {
		return domain.ValidationError("PDF is empty", nil)
	}

	if len(data) > maxSize {
		return domain.ValidationError(fmt.Sprintf("PDF is too large (%d MB)", len(data)/(1024*1024)), nil)
	}

	// The header may be preceded by a little junk; readers accept it within the first KB.
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, pdfMagic) {
		return domain.ValidationError("file is not a PDF (missing %PDF- header)", nil)
	}

	return nil
}

// ValidateQuality validates image quality parameter
func (v *Validator) ValidateQuality(quality int) error {
	if quality < 1 || quality > 100 {
		return domain.ValidationError(fmt.Sprintf("quality must be between 1 and 100, got %d", quality), nil)
	}
	return nil
}
