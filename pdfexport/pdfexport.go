// Package pdfexport wraps a composed capture image into a single-page
// PDF sized to the image.
package pdfexport

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// FromImage imports one encoded image (PNG or JPEG) into a new PDF and
// writes it to w. A nil import config sizes the page to the image.
func FromImage(w io.Writer, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("pdfexport: empty image")
	}
	imgs := []io.Reader{bytes.NewReader(image)}
	if err := api.ImportImages(nil, w, imgs, nil, nil); err != nil {
		return fmt.Errorf("pdfexport: import image: %w", err)
	}
	return nil
}
