// Package pdfutil reads facts out of uploaded PDF documents.
package pdfutil

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// maxInspectSize bounds how much of an object the worker will buffer.
const maxInspectSize = 64 << 20

// Info summarizes a PDF. HasText is false for scanned documents without a
// text layer.
type Info struct {
	Pages   int
	HasText bool
}

// Inspect parses PDF bytes and reports the page count and whether any page
// carries extractable text.
func Inspect(data []byte) (Info, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("new pdf reader: %w", err)
	}
	info := Info{Pages: doc.NumPage()}
	for page := 1; page <= info.Pages && !info.HasText; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return info, fmt.Errorf("page %d: %w", page, err)
		}
		info.HasText = strings.TrimSpace(content) != ""
	}
	return info, nil
}

// InspectReader drains r, up to a fixed limit, before passing it to Inspect.
func InspectReader(r io.Reader) (Info, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInspectSize+1))
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	if len(data) > maxInspectSize {
		return Info{}, fmt.Errorf("pdf larger than %d bytes", maxInspectSize)
	}
	return Inspect(data)
}
