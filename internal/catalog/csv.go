package catalog

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// CSVSource reads products from a headered CSV file with columns
// Category, Title, Price_Euro, Grammage and Product_ID. Prices may use
// German decimal notation ("1,49") and carry stray quotes or tax letters.
type CSVSource struct {
	path string
}

// NewCSVSource creates a new CSVSource for the given file path
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// GetAllProducts reads and parses the whole catalog file. A missing file
// is logged and yields an empty catalog rather than an error.
func (s *CSVSource) GetAllProducts() ([]Product, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Error("Product file not found", "path", s.path)
			return nil, nil
		}
		return nil, fmt.Errorf("opening catalog file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading catalog csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	columns := headerIndex(records[0])
	products := make([]Product, 0, len(records)-1)
	for _, record := range records[1:] {
		products = append(products, Product{
			Category:   field(record, columns, "Category"),
			Title:      field(record, columns, "Title"),
			Price:      ParsePrice(field(record, columns, "Price_Euro")),
			Grammage:   field(record, columns, "Grammage"),
			ExternalID: field(record, columns, "Product_ID"),
		})
	}

	slog.Info("Loaded product catalog", "path", s.path, "count", len(products))
	return products, nil
}

// ParsePrice parses a price string tolerating German decimal commas,
// surrounding quotes and non-numeric noise like tax category letters.
// Unparsable input yields 0.
func ParsePrice(raw string) float64 {
	var clean strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' || c == ',' || c == '.' {
			clean.WriteRune(c)
		}
	}
	normalized := strings.ReplaceAll(clean.String(), ",", ".")
	price, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0
	}
	return price
}

func headerIndex(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}
	return columns
}

func field(record []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
