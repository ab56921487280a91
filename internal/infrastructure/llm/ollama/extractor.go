package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kirillkom/promo-price-index/internal/core/domain"
	"github.com/kirillkom/promo-price-index/internal/core/ports"
)

// ProductExtractor is one extraction pass: flyer bytes to text, text to chunks, each
// chunk prompted for JSON offers.
type ProductExtractor struct {
	client  *Client
	reader  ports.SourceTextReader
	chunker ports.Chunker
}

func NewProductExtractor(client *Client, reader ports.SourceTextReader, chunker ports.Chunker) *ProductExtractor {
	return &ProductExtractor{
		client:  client,
		reader:  reader,
		chunker: chunker,
	}
}

func (e *ProductExtractor) Extract(ctx context.Context, source []byte, filename string) ([]domain.ExtractedProduct, error) {
	text, err := e.reader.ReadText(ctx, source, filename)
	if err != nil {
		return nil, fmt.Errorf("read flyer text: %w", err)
	}
	chunks := e.chunker.Split(text)
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "extract products", errors.New("flyer has no text"))
	}

	products := make([]domain.ExtractedProduct, 0)
	for i, chunk := range chunks {
		raw, err := e.client.generateJSON(ctx, buildExtractionPrompt(chunk))
		if err != nil {
			return nil, fmt.Errorf("extract chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parsed, err := parseProducts(raw)
		if err != nil {
			return nil, domain.WrapError(
				domain.ErrExtractionFailed,
				"extract products",
				fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err),
			)
		}
		products = append(products, parsed...)
	}
	return products, nil
}

type rawProduct struct {
	Name          string `json:"name"`
	Price         any    `json:"price"`
	OriginalPrice any    `json:"original_price"`
	Unit          string `json:"unit"`
	Validity      string `json:"validity"`
}

// parseProducts decodes the model reply. Items without a name or a positive price
// are dropped.
func parseProducts(raw string) ([]domain.ExtractedProduct, error) {
	var payload struct {
		Products []rawProduct `json:"products"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &payload); err != nil {
		return nil, fmt.Errorf("parse products json: %w", err)
	}

	out := make([]domain.ExtractedProduct, 0, len(payload.Products))
	for _, item := range payload.Products {
		name := strings.TrimSpace(item.Name)
		price, ok := parsePriceValue(item.Price)
		if name == "" || !ok || price <= 0 {
			continue
		}
		product := domain.ExtractedProduct{
			Name:     name,
			Price:    price,
			Unit:     strings.TrimSpace(item.Unit),
			Validity: strings.TrimSpace(item.Validity),
		}
		if original, ok := parsePriceValue(item.OriginalPrice); ok && original > 0 {
			product.OriginalPrice = &original
		}
		out = append(out, product)
	}
	return out, nil
}

func parsePriceValue(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case string:
		return ParseBRLPrice(value)
	default:
		return 0, false
	}
}

// ParseBRLPrice parses prices such as "R$ 1.299,90", "4,99" or "4.99". A comma
// marks the decimal separator; dots are then thousands separators.
func ParseBRLPrice(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\t':
			return -1
		default:
			return r
		}
	}, s)
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
