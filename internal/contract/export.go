package contract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"regexp"
	"strings"

	"github.com/go-pdf/fpdf"
)

// PDF page geometry in millimetres (A4 portrait)
const (
	PDFPageWidth  = 210.0
	PDFPageHeight = 297.0
)

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ExportFilename derives the download name from the tenant's name
func ExportFilename(tenantName string) string {
	base := strings.Trim(nonAlnum.ReplaceAllString(tenantName, "_"), "_")
	if base == "" {
		base = "Tenant"
	}
	return base + "_Rental_Agreement.pdf"
}

// PDFHeight returns the total height in millimetres of a document scaled to
// the page width.
func PDFHeight(doc *Document) float64 {
	return PDFPageWidth * float64(doc.Height()) / float64(doc.Width())
}

// ExportPDF writes the document scaled to 210 mm wide, split across as many
// A4 pages as its proportional height needs.
func ExportPDF(doc *Document, w io.Writer) error {
	if doc == nil || doc.Image == nil || doc.Width() == 0 || doc.Height() == 0 {
		return ErrIncomplete
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("SafeStay", false)
	pdf.SetCreationDate(doc.Date)
	pdf.SetModificationDate(doc.Date)

	// Rows of raster per A4 page
	slicePx := int(float64(doc.Width()) * PDFPageHeight / PDFPageWidth)
	bounds := doc.Image.Bounds()

	for page, top := 0, bounds.Min.Y; top < bounds.Max.Y; page, top = page+1, top+slicePx {
		bottom := min(top+slicePx, bounds.Max.Y)
		slice := doc.Image.SubImage(image.Rect(bounds.Min.X, top, bounds.Max.X, bottom))

		var buf bytes.Buffer
		if err := png.Encode(&buf, slice); err != nil {
			return fmt.Errorf("failed to encode page %d: %w", page+1, err)
		}

		name := fmt.Sprintf("page-%d", page+1)
		opts := fpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, opts, &buf)

		pdf.AddPage()
		sliceMM := PDFPageWidth * float64(bottom-top) / float64(doc.Width())
		pdf.ImageOptions(name, 0, 0, PDFPageWidth, sliceMM, false, opts, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// PageCount returns how many A4 pages ExportPDF produces for doc
func PageCount(doc *Document) int {
	slicePx := int(float64(doc.Width()) * PDFPageHeight / PDFPageWidth)
	return (doc.Height() + slicePx - 1) / slicePx
}
