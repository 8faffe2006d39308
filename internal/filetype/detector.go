package filetype

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const pdfMIME = "application/pdf"

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	Paginated   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// Detect detects the actual file type of a file on disk using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	info := d.classify(mtype)
	if ext := strings.ToLower(filepath.Ext(filePath)); ext != "" && ext != info.Extension {
		log.Debug().Str("file", filePath).Str("ext", ext).Str("mime", info.MIMEType).Msg("file extension does not match content")
	}
	return info, nil
}

// DetectBytes detects the type of an in-memory document.
func (d *Detector) DetectBytes(data []byte) *FileTypeInfo {
	return d.classify(mimetype.Detect(data))
}

// IsPDF reports whether data starts like a PDF document.
func (d *Detector) IsPDF(data []byte) bool {
	return d.DetectBytes(data).Paginated
}

func (d *Detector) classify(mtype *mimetype.MIME) *FileTypeInfo {
	info := &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
	}
	switch {
	case mtype.Is(pdfMIME):
		info.Paginated = true
		info.Description = "PDF document"
	case strings.HasPrefix(info.MIMEType, "text/"):
		info.Description = "Plain text file"
	case strings.HasPrefix(info.MIMEType, "image/"):
		info.Description = "Image file"
	default:
		info.Description = fmt.Sprintf("Unsupported file type: %s", info.MIMEType)
	}
	return info
}
