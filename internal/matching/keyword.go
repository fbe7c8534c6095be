package matching

import (
	"context"
	"fmt"
	"math"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
)

// keywordPriceTolerance is looser than the fused path's: the keyword
// path has no price signal in its ranking, so validation only flags
// gross divergence.
const keywordPriceTolerance = 0.50

// KeywordStrategy matches each line with a single keyword-filtered
// lookup. The gateway's confidence gate decides accept or reject; a
// rejected line becomes an explicit unknown, never a guess.
type KeywordStrategy struct {
	index Searcher
}

// NewKeywordStrategy creates a new KeywordStrategy
func NewKeywordStrategy(index Searcher) *KeywordStrategy {
	return &KeywordStrategy{index: index}
}

// Match reconciles the document line by line, order preserved
func (s *KeywordStrategy) Match(ctx context.Context, doc *extraction.Document) (*Result, error) {
	result := newResult(doc)

	for _, line := range doc.Lines {
		candidate, err := s.index.SearchByKeywords(ctx, line.Name)
		if err != nil {
			return nil, fmt.Errorf("searching for %q: %w", line.Name, err)
		}
		if candidate == nil {
			result.Items = append(result.Items, unmatchedLine(line))
			continue
		}

		result.Items = append(result.Items, MatchedLine{
			OriginalName:    line.Name,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			TotalPrice:      line.TotalPrice,
			MatchedName:     candidate.Name,
			MatchedCategory: candidate.Category,
			MatchedPrice:    candidate.Price,
			PriceValid:      math.Abs(line.UnitPrice-candidate.Price) < keywordPriceTolerance,
			Confidence:      candidate.Score,
		})
	}

	return result, nil
}
