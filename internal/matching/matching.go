// Package matching reconciles extracted receipt lines against the
// product catalog through the vector index.
package matching

import (
	"context"
	"math"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/vectorindex"
)

const (
	// UnknownProduct marks a line no catalog product could be matched to
	// with enough confidence. An explicit unknown beats a fabricated match.
	UnknownProduct  = "Unknown Product"
	UnknownCategory = "N/A"
)

// Searcher is the slice of the vector index gateway the matcher needs
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]vectorindex.Candidate, error)
	SearchByKeywords(ctx context.Context, name string) (*vectorindex.Candidate, error)
}

// MatchedLine is a reconciled receipt line: the extracted values plus
// the catalog product it was matched to, if any.
type MatchedLine struct {
	OriginalName    string  `json:"original_name"`
	Quantity        int     `json:"quantity"`
	UnitPrice       float64 `json:"unit_price"`
	TotalPrice      float64 `json:"total_price"`
	MatchedName     string  `json:"matched_name"`
	MatchedCategory string  `json:"matched_category"`
	MatchedPrice    float64 `json:"matched_price"`
	PriceValid      bool    `json:"is_price_valid"`
	Confidence      float64 `json:"match_confidence"`
}

// Result is the reconciled receipt, one matched line per input line in
// input order.
type Result struct {
	Items           []MatchedLine `json:"items"`
	GrandTotal      float64       `json:"receipt_grand_total"`
	Currency        string        `json:"currency"`
	CalculatedTotal float64       `json:"calculated_total"`
}

// Strategy defines the interface for a matching algorithm
type Strategy interface {
	// Match reconciles every line of the document, order preserved
	Match(ctx context.Context, doc *extraction.Document) (*Result, error)
}

func newResult(doc *extraction.Document) *Result {
	currency := doc.Currency
	if currency == "" {
		currency = "EUR"
	}
	var calculated float64
	for _, line := range doc.Lines {
		calculated += line.TotalPrice
	}
	return &Result{
		Items:           make([]MatchedLine, 0, len(doc.Lines)),
		GrandTotal:      doc.GrandTotal,
		Currency:        currency,
		CalculatedTotal: math.Round(calculated*100) / 100,
	}
}

func unmatchedLine(line extraction.Line) MatchedLine {
	return MatchedLine{
		OriginalName:    line.Name,
		Quantity:        line.Quantity,
		UnitPrice:       line.UnitPrice,
		TotalPrice:      line.TotalPrice,
		MatchedName:     UnknownProduct,
		MatchedCategory: UnknownCategory,
	}
}
