package matching

import (
	"context"
	"fmt"
	"math"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
)

const (
	candidateLimit = 20

	// Weights of the fused re-ranking score. Price gets a real vote so
	// store brands and premium brands with near-identical names still
	// separate.
	vectorWeight = 0.4
	fuzzyWeight  = 0.4
	priceWeight  = 0.2

	// priceValidTolerance allows slight rounding between the receipt and
	// the catalog price.
	priceValidTolerance = 0.05
)

// FusedStrategy matches each line by retrieving the top 20 semantic
// candidates and re-ranking them with a weighted blend of vector
// similarity, fuzzy name similarity and price proximity. Recall comes
// from the embedding; precision from the re-rank.
type FusedStrategy struct {
	index Searcher
}

// NewFusedStrategy creates a new FusedStrategy
func NewFusedStrategy(index Searcher) *FusedStrategy {
	return &FusedStrategy{index: index}
}

// Match reconciles the document. Lines are processed sequentially to
// bound load on the embedding backend; outputs keep input order.
func (s *FusedStrategy) Match(ctx context.Context, doc *extraction.Document) (*Result, error) {
	result := newResult(doc)

	for _, line := range doc.Lines {
		candidates, err := s.index.Search(ctx, line.Name, candidateLimit)
		if err != nil {
			return nil, fmt.Errorf("retrieving candidates for %q: %w", line.Name, err)
		}
		if len(candidates) == 0 {
			result.Items = append(result.Items, unmatchedLine(line))
			continue
		}

		best := 0
		bestScore := fusedScore(candidates[0].Score, fuzzyScore(line.Name, candidates[0].Name), priceScore(candidates[0].Price, line.UnitPrice))
		for i := 1; i < len(candidates); i++ {
			score := fusedScore(candidates[i].Score, fuzzyScore(line.Name, candidates[i].Name), priceScore(candidates[i].Price, line.UnitPrice))
			// Strict comparison keeps the first candidate on ties
			if score > bestScore {
				best, bestScore = i, score
			}
		}

		winner := candidates[best]
		result.Items = append(result.Items, MatchedLine{
			OriginalName:    line.Name,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			TotalPrice:      line.TotalPrice,
			MatchedName:     winner.Name,
			MatchedCategory: winner.Category,
			MatchedPrice:    winner.Price,
			PriceValid:      math.Abs(winner.Price-line.UnitPrice) < priceValidTolerance,
			Confidence:      bestScore,
		})
	}

	return result, nil
}

// fusedScore blends the three normalized signals into the final ranking
// score
func fusedScore(vectorScore, fuzzyScore, priceScore float64) float64 {
	return vectorWeight*vectorScore + fuzzyWeight*fuzzyScore + priceWeight*priceScore
}

// fuzzyScore is the case-insensitive weighted fuzzy ratio between the
// receipt line name and the candidate name, scaled to [0,1]. UWRatio
// handles the umlauts German product names carry.
func fuzzyScore(lineName, candidateName string) float64 {
	return float64(fuzzy.UWRatio(strings.ToLower(lineName), strings.ToLower(candidateName))) / 100
}

// priceScore is 1.0 at an exact price match and decays smoothly as the
// divergence grows; a 0.50 difference still scores about 0.66
func priceScore(candidatePrice, unitPrice float64) float64 {
	return 1 / (1 + math.Abs(candidatePrice-unitPrice))
}
