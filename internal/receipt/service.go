package receipt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/document"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/matching"
)

// PageConverter turns an uploaded file into one encoded JPEG per page.
type PageConverter func(data []byte, contentType string) ([][]byte, error)

// Service turns an uploaded receipt file into catalog-matched line items:
// page conversion, then vision extraction, then product matching.
type Service struct {
	extractor extraction.Extractor
	alternate extraction.Extractor
	matcher   matching.Strategy
	pages     PageConverter
}

// NewService creates a new Service with the default page converter. The
// alternate extractor may be nil when no fallback backend is configured.
func NewService(extractor, alternate extraction.Extractor, matcher matching.Strategy) *Service {
	return NewServiceWithDeps(extractor, alternate, matcher, document.PageImages)
}

// NewServiceWithDeps creates a new Service with a custom page converter for testing
func NewServiceWithDeps(extractor, alternate extraction.Extractor, matcher matching.Strategy, pages PageConverter) *Service {
	return &Service{
		extractor: extractor,
		alternate: alternate,
		matcher:   matcher,
		pages:     pages,
	}
}

// ExtractAndMatch processes a receipt file with the primary extraction backend.
func (s *Service) ExtractAndMatch(ctx context.Context, data []byte, contentType string) (*matching.Result, error) {
	return s.process(ctx, s.extractor, data, contentType)
}

// ExtractAndMatchAlternate processes a receipt file with the alternate
// extraction backend.
func (s *Service) ExtractAndMatchAlternate(ctx context.Context, data []byte, contentType string) (*matching.Result, error) {
	if s.alternate == nil {
		return nil, fmt.Errorf("alternate extractor is not configured")
	}
	return s.process(ctx, s.alternate, data, contentType)
}

func (s *Service) process(ctx context.Context, extractor extraction.Extractor, data []byte, contentType string) (*matching.Result, error) {
	pages, err := s.pages(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("converting file to images: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages found in uploaded file")
	}

	doc, err := extractor.Extract(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}
	slog.Info("Extracted receipt", "merchant", doc.Merchant, "items", len(doc.Lines), "grand_total", doc.GrandTotal)

	result, err := s.matcher.Match(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("matching products: %w", err)
	}
	return result, nil
}
