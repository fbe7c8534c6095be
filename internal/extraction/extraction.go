package extraction

import (
	"context"
	"errors"
)

// ErrUpstream indicates that every call to the extraction backend failed
var ErrUpstream = errors.New("extraction backend unavailable")

// Line is a single extracted receipt line item. The JSON names mirror
// the schema the models are instructed to emit.
type Line struct {
	Name       string  `json:"name"`
	Quantity   int     `json:"stk"`
	UnitPrice  float64 `json:"unit_price"`
	TotalPrice float64 `json:"total_price"`
	Deposit    float64 `json:"pfand,omitempty"`
}

// Document is a structured receipt as extracted from page images.
// Immutable once returned; never persisted.
type Document struct {
	Merchant   string  `json:"merchant,omitempty"`
	Lines      []Line  `json:"items"`
	GrandTotal float64 `json:"grand_total"`
	Currency   string  `json:"currency"`
}

// Extractor defines the interface for receipt extraction backends.
// Images are raw page bytes in document order.
type Extractor interface {
	// Extract analyzes receipt page images and returns a structured document
	Extract(ctx context.Context, images [][]byte) (*Document, error)
}
