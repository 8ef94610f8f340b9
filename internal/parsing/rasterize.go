package parsing

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/sirupsen/logrus"
)

// DefaultDPI is the render resolution for page images. 300 DPI keeps small
// print legible for the vision model without producing absurd payloads.
const DefaultDPI = 300

// Page is one rendered page of a source document, ready for extraction.
// Pages are ephemeral: the pipeline discards them once their text is produced.
type Page struct {
	Index int // 0-based, defines output order
	Data  []byte
	MIME  string
}

// Rasterizer converts raw document bytes into an ordered sequence of page
// images at a fixed resolution.
type Rasterizer interface {
	Rasterize(ctx context.Context, data []byte) ([]Page, error)
}

// FitzRasterizer renders PDF pages to PNG via MuPDF. The source is validated
// with pdfcpu first so clearly broken uploads fail with a page-count error
// instead of a renderer crash deep inside the pipeline.
type FitzRasterizer struct {
	DPI    float64
	Logger *logrus.Logger
}

// NewFitzRasterizer creates a rasterizer rendering at the default resolution.
func NewFitzRasterizer(logger *logrus.Logger) *FitzRasterizer {
	return &FitzRasterizer{DPI: DefaultDPI, Logger: logger}
}

// Rasterize renders every page of the document, in document order.
func (r *FitzRasterizer) Rasterize(ctx context.Context, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, &ConversionError{Reason: "empty document"}
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	pageCount, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, &ConversionError{Reason: "not a readable PDF", Err: err}
	}
	if pageCount == 0 {
		return nil, ErrEmptyDocument
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, &ConversionError{Reason: "failed to open PDF", Err: err}
	}
	defer func() {
		if err := doc.Close(); err != nil && r.Logger != nil {
			r.Logger.WithError(err).Warn("Failed to close PDF document")
		}
	}()

	dpi := r.DPI
	if dpi <= 0 {
		dpi = DefaultDPI
	}

	pages := make([]Page, 0, doc.NumPage())
	for n := 0; n < doc.NumPage(); n++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(n, dpi)
		if err != nil {
			return nil, &ConversionError{Reason: fmt.Sprintf("failed to render page %d", n+1), Err: err}
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, &ConversionError{Reason: fmt.Sprintf("failed to encode page %d", n+1), Err: err}
		}

		pages = append(pages, Page{Index: n, Data: buf.Bytes(), MIME: "image/png"})
	}

	if r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{
			"pages": len(pages),
			"dpi":   dpi,
		}).Debug("Rasterized PDF document")
	}

	return pages, nil
}
