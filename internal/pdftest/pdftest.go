// Package pdftest checks that an incoming sub-document is a paginated PDF
// MuPDF can decode, and samples its text layer.
package pdftest

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"time"

	"github.com/local/masterdoc/internal/filetype"
)

var (
	// ErrNotPaginated is returned when the bytes are not a PDF document.
	ErrNotPaginated = errors.New("content is not a paginated document")
	// ErrNoPages is returned when the document decodes but has no pages.
	ErrNoPages = errors.New("document has no pages")
)

// PageProbe captures the result of probing a single PDF page.
type PageProbe struct {
	PageIndex int    `json:"page_index"`
	CharCount int    `json:"char_count"`
	Sampled   bool   `json:"sampled"`
	Err       string `json:"err,omitempty"`
}

// Diagnostics describes a probed document.
type Diagnostics struct {
	MIMEType           string      `json:"mime_type"`
	SizeBytes          int         `json:"size_bytes"`
	TotalPages         int         `json:"total_pages"`
	SampledPages       []int       `json:"sampled_pages"`
	TotalCharsInSample int         `json:"total_chars_in_sample"`
	Threshold          int         `json:"threshold"`
	Probes             []PageProbe `json:"probes"`
	HasExtractableText bool        `json:"has_extractable_text"`
	DurationMs         int64       `json:"duration_ms"`
}

// DefaultThreshold is used when a non-positive threshold is passed in.
const DefaultThreshold = 300

// whitespaceRegex matches any whitespace (Unicode-aware). Used to strip whitespace.
var whitespaceRegex = regexp.MustCompile(`\s+`)

func stripWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, "")
}

// Doc abstracts a PDF document for page counting and text extraction.
type Doc interface {
	NumPage() int
	Page(i int) (Page, error)
	Close() error
}

// Page abstracts a single PDF page for text extraction.
type Page interface {
	Text() (string, error)
	Close()
}

// Opener abstracts decoding in-memory PDF bytes into a Doc.
type Opener interface {
	Open(data []byte) (Doc, error)
}

// defaultOpener is provided in doc_open_fitz.go using go-fitz.
var defaultOpener Opener

func setDefaultOpener(o Opener) { defaultOpener = o }

// Prober validates sub-documents before they are packed.
type Prober struct {
	detector  *filetype.Detector
	opener    Opener
	threshold int
}

// NewProber returns a Prober using the MuPDF opener. If threshold <= 0,
// DefaultThreshold is used.
func NewProber(threshold int) *Prober {
	return newProber(defaultOpener, threshold)
}

func newProber(o Opener, threshold int) *Prober {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Prober{detector: filetype.New(), opener: o, threshold: threshold}
}

// Probe sniffs content, decodes it and samples up to five pages for text. It
// fails only when the content is not a decodable document with at least one
// page; a missing text layer is reported in the diagnostics.
func (p *Prober) Probe(content []byte) (*Diagnostics, error) {
	if p.opener == nil {
		return nil, errors.New("no PDF opener configured")
	}
	start := time.Now()
	info := p.detector.DetectBytes(content)
	if !info.Paginated {
		return nil, fmt.Errorf("%w: detected %s", ErrNotPaginated, info.MIMEType)
	}

	d, err := p.opener.Open(content)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer d.Close()

	total := d.NumPage()
	if total <= 0 {
		return nil, ErrNoPages
	}

	sampleIdx := sampleIndices(total)
	probes := make([]PageProbe, 0, len(sampleIdx))
	totalChars := 0
	for _, idx := range sampleIdx {
		probe := PageProbe{PageIndex: idx, Sampled: true}
		pg, perr := d.Page(idx)
		if perr != nil {
			probe.Err = perr.Error()
			probes = append(probes, probe)
			continue
		}
		text, terr := pg.Text()
		pg.Close()
		if terr != nil {
			probe.Err = terr.Error()
			probes = append(probes, probe)
			continue
		}
		count := len([]rune(stripWhitespace(text)))
		probe.CharCount = count
		totalChars += count
		probes = append(probes, probe)
		if totalChars >= p.threshold {
			break
		}
	}

	return &Diagnostics{
		MIMEType:           info.MIMEType,
		SizeBytes:          len(content),
		TotalPages:         total,
		SampledPages:       sampleIdx,
		TotalCharsInSample: totalChars,
		Threshold:          p.threshold,
		Probes:             probes,
		HasExtractableText: totalChars >= p.threshold,
		DurationMs:         time.Since(start).Milliseconds(),
	}, nil
}

// sampleIndices returns every page for documents of up to five pages;
// otherwise first, middle, last plus two random distinct pages.
func sampleIndices(total int) []int {
	if total <= 0 {
		return []int{}
	}
	if total <= 5 {
		idx := make([]int, total)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}

	base := map[int]struct{}{0: {}, total / 2: {}, total - 1: {}}
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	for len(base) < 5 {
		base[rnd.Intn(total)] = struct{}{}
	}

	out := make([]int, 0, 5)
	for i := range base {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
