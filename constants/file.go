package constants

import "strings"

// FileFormat is the sniffed format of an input document.
type FileFormat string

const (
	FormatPDF     FileFormat = "PDF"
	FormatPNG     FileFormat = "PNG"
	FormatJPEG    FileFormat = "JPEG"
	FormatBMP     FileFormat = "BMP"
	FormatTIFF    FileFormat = "TIFF"
	FormatGIF     FileFormat = "GIF"
	FormatUnknown FileFormat = "UNKNOWN"
)

// AllowedExtensions holds the file extensions accepted as drawing input,
// for uploads and cloud folder listings alike.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"bmp":  {},
	"tif":  {},
	"tiff": {},
	"gif":  {},
}

// MIMETypes maps each format to the content type sent to vision APIs.
var MIMETypes = map[FileFormat]string{
	FormatPDF:  "application/pdf",
	FormatPNG:  "image/png",
	FormatJPEG: "image/jpeg",
	FormatBMP:  "image/bmp",
	FormatTIFF: "image/tiff",
	FormatGIF:  "image/gif",
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// ExtAllowed reports whether a filename extension is an accepted
// drawing format.
func ExtAllowed(ext string) bool {
	_, ok := AllowedExtensions[NormalizeExt(ext)]
	return ok
}
