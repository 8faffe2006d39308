package testsupport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/local/masterdoc/internal/document"
)

// BlankPDF returns a real pdfcpu-built PDF with the given number of blank
// pages.
func BlankPDF(t testing.TB, pages int) []byte {
	t.Helper()
	data, err := document.BlankDocument(pages)
	require.NoError(t, err)
	return data
}
