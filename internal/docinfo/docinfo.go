// Package docinfo probes drawing files before a pipeline run: format
// sniffing by magic bytes, PDF page counts, and raster dimensions.
// Probing is total; an unreadable file still yields a size and a page
// estimate so method selection can proceed.
package docinfo

import (
	"bytes"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/retro-lab/drawing-analyzer/constants"
)

// Info describes a probed input document.
type Info struct {
	Format constants.FileFormat
	MIME   string
	SizeMB float64
	Pages  int
	Width  int
	Height int
}

// IsPDF reports whether the document is a PDF.
func (i Info) IsPDF() bool { return i.Format == constants.FormatPDF }

// IsRaster reports whether the document is a raster image.
func (i Info) IsRaster() bool {
	switch i.Format {
	case constants.FormatPNG, constants.FormatJPEG, constants.FormatBMP,
		constants.FormatTIFF, constants.FormatGIF:
		return true
	}
	return false
}

var magics = []struct {
	prefix []byte
	format constants.FileFormat
}{
	{[]byte("%PDF-"), constants.FormatPDF},
	{[]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, constants.FormatPNG},
	{[]byte{0xff, 0xd8, 0xff}, constants.FormatJPEG},
	{[]byte("GIF87a"), constants.FormatGIF},
	{[]byte("GIF89a"), constants.FormatGIF},
	{[]byte("II*\x00"), constants.FormatTIFF},
	{[]byte("MM\x00*"), constants.FormatTIFF},
	{[]byte("BM"), constants.FormatBMP},
}

// Sniff identifies the file format from its leading bytes. Content
// types supplied by uploaders are advisory only; the bytes decide.
func Sniff(b []byte) constants.FileFormat {
	for _, m := range magics {
		if bytes.HasPrefix(b, m.prefix) {
			return m.format
		}
	}
	return constants.FormatUnknown
}

// MIME returns the content type for a sniffed format, falling back to
// application/octet-stream for unknown formats.
func MIME(f constants.FileFormat) string {
	if mt, ok := constants.MIMETypes[f]; ok {
		return mt
	}
	return "application/octet-stream"
}

// Probe inspects a document without fully decoding it.
func Probe(b []byte) Info {
	info := Info{
		Format: Sniff(b),
		SizeMB: float64(len(b)) / (1 << 20),
		Pages:  1,
	}
	info.MIME = MIME(info.Format)

	switch {
	case info.IsPDF():
		info.Pages = PageCount(b)
	case info.IsRaster():
		if w, h, err := Dimensions(b); err == nil {
			info.Width, info.Height = w, h
		}
	default:
		info.Pages = estimatePages(len(b))
	}
	return info
}

// PageCount reads the page count of a PDF. Files whose page tree
// cannot be read fall back to a size-based estimate of roughly two
// pages per megabyte.
func PageCount(b []byte) int {
	n, err := pdfPageCount(b)
	if err != nil {
		return estimatePages(len(b))
	}
	return n
}

func pdfPageCount(b []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(b), conf)
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return ctx.PageCount, nil
}

func estimatePages(size int) int {
	pages := int(float64(size) / (1 << 20) * 2)
	if pages < 1 {
		return 1
	}
	return pages
}

// Dimensions reads the pixel size of a raster image from its header.
func Dimensions(b []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}
