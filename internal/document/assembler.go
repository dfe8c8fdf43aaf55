// Package document assembles one PDF per order from its normalized assets.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"orderdocs/internal/asset"
	"orderdocs/internal/orderapi"
)

var (
	ErrNoUsableAssets = errors.New("no usable assets for order")
	ErrAssembly       = errors.New("document assembly failed")
)

// OrderDocument is the assembled artifact for one order. Immutable once
// produced; AssetIDs records the embedded assets in page order.
type OrderDocument struct {
	OrderID  string
	Bytes    []byte
	AssetIDs []string
}

// Assembler composes order metadata and assets into a single PDF.
type Assembler struct {
	// CreationDate is pinned into the PDF metadata so identical inputs
	// produce identical bytes. The zero value uses a fixed epoch.
	CreationDate time.Time
}

var fixedEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

var pdfImageTypes = map[string]string{
	"jpeg": "JPEG",
	"png":  "PNG",
}

// Assemble builds the document, preserving the input asset order.
func (a Assembler) Assemble(order orderapi.Order, assets []asset.Asset) (*OrderDocument, error) {
	if len(assets) == 0 {
		return nil, fmt.Errorf("order %s: %w", order.ID, ErrNoUsableAssets)
	}

	creation := a.CreationDate
	if creation.IsZero() {
		creation = fixedEpoch
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(creation)
	pdf.SetTitle("Order "+order.ID, false)

	a.writeHeaderPage(pdf, order, len(assets))

	assetIDs := make([]string, 0, len(assets))
	for _, item := range assets {
		if err := a.addAssetPage(pdf, item); err != nil {
			return nil, fmt.Errorf("order %s: %w", order.ID, err)
		}
		assetIDs = append(assetIDs, item.ID)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("order %s: %w: %v", order.ID, ErrAssembly, err)
	}
	return &OrderDocument{
		OrderID:  order.ID,
		Bytes:    buf.Bytes(),
		AssetIDs: assetIDs,
	}, nil
}

func (a Assembler) writeHeaderPage(pdf *gofpdf.Fpdf, order orderapi.Order, assetCount int) {
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, "Order "+order.ID, "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	if order.Customer != "" {
		pdf.CellFormat(0, 8, "Customer: "+order.Customer, "", 1, "L", false, 0, "")
	}
	if !order.CreatedAt.IsZero() {
		pdf.CellFormat(0, 8, "Created: "+order.CreatedAt.UTC().Format(time.RFC3339), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 8, fmt.Sprintf("Attachments: %d", assetCount), "", 1, "L", false, 0, "")
}

func (a Assembler) addAssetPage(pdf *gofpdf.Fpdf, item asset.Asset) error {
	imageType, ok := pdfImageTypes[item.Format]
	if !ok {
		return fmt.Errorf("%w: unsupported asset format %q", ErrAssembly, item.Format)
	}

	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 6, item.ID, "", 1, "L", false, 0, "")

	opts := gofpdf.ImageOptions{ImageType: imageType}
	pdf.RegisterImageOptionsReader(item.ID, opts, bytes.NewReader(item.Data))
	if pdf.Err() {
		return fmt.Errorf("%w: register image %s: %v", ErrAssembly, item.ID, pdf.Error())
	}

	// full content width, height scaled by aspect ratio
	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions(item.ID, left, pdf.GetY()+2, pageW-left-right, 0, false, opts, 0, "")
	if pdf.Err() {
		return fmt.Errorf("%w: place image %s: %v", ErrAssembly, item.ID, pdf.Error())
	}
	return nil
}
