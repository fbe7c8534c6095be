package extraction

import (
	"fmt"
	"math"
	"strings"
)

const (
	// lineTolerance is the allowed drift between quantity*unit_price and
	// total_price before a line counts as a math error.
	lineTolerance = 0.01
	// totalTolerance is the allowed drift between the summed line totals
	// and the stated grand total.
	totalTolerance = 0.05
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// verify checks the arithmetic consistency of an extracted document and
// returns a human-readable diagnostic describing every mismatch, or the
// empty string when the document is consistent. The diagnostic text is
// fed back verbatim to the model on retry.
func verify(doc *Document) string {
	if doc == nil || len(doc.Lines) == 0 {
		return "No items found"
	}

	var diagnostics strings.Builder
	var calculatedTotal float64
	for _, line := range doc.Lines {
		lineTotal := round2(float64(line.Quantity) * line.UnitPrice)
		if math.Abs(lineTotal-line.TotalPrice) > lineTolerance {
			fmt.Fprintf(&diagnostics,
				"Math error at '%s': %d x %g is %g but in the Receipt it is %g Either the stk or unit_price or total Price please re check this.  ",
				line.Name, line.Quantity, line.UnitPrice, lineTotal, line.TotalPrice)
		}
		calculatedTotal += lineTotal
	}

	if math.Abs(calculatedTotal-doc.GrandTotal) > totalTolerance {
		fmt.Fprintf(&diagnostics,
			"Grand total mismatch: Sum of items is %g but grand_total is %g",
			calculatedTotal, doc.GrandTotal)
	}

	return diagnostics.String()
}
