// Package archive packages assembled order documents into a single zip.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"orderdocs/internal/document"
	fileutil "orderdocs/internal/file"
)

// entry timestamps are pinned so repeated runs over identical inputs produce
// identical archives
var fixedModTime = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// EntryName derives a document's archive entry name solely from its order
// identifier.
func EntryName(orderID string) string { return orderID + ".pdf" }

// Build writes the given documents into a zip at destZipPath, in the order
// provided. Missing or failed orders are simply absent; the ledger records
// the omissions. The zip is written atomically via temp file + rename.
func Build(destZipPath string, docs []*document.OrderDocument) error {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	for _, doc := range docs {
		if doc == nil {
			continue
		}
		entryName := EntryName(doc.OrderID)
		header := &zip.FileHeader{
			Name:     entryName,
			Method:   zip.Deflate,
			Modified: fixedModTime,
		}
		entryWriter, err := zipWriter.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create zip entry %s: %w", entryName, err)
		}
		if _, err := entryWriter.Write(doc.Bytes); err != nil {
			return fmt.Errorf("write zip entry %s: %w", entryName, err)
		}
		log.Debug().Str("entry", entryName).Int("bytes", len(doc.Bytes)).Msg("archive entry written")
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	if err := fileutil.CopyAtomic(destZipPath, &buf); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	return nil
}
