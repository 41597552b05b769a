package services

import (
	"time"

	"github.com/itsAR-VR/pricebot/internal/core/export"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
)

// VendorPriceTemplate builds the workbook vendors fill in for spreadsheet
// uploads: the canonical header row the spreadsheet processor recognizes,
// plus one example row.
func VendorPriceTemplate() *export.ExportData {
	return &export.ExportData{
		Title:     "Vendor Price List",
		CreatedAt: time.Now().UTC(),
		Headers:   []string{"Description", "Model Number", "UPC", "Price", "Quantity", "Condition", "Warehouse", "Notes"},
		Rows: [][]interface{}{
			{"Apple iPhone 13 128GB", "MLPF3LL/A", "194252707890", 450.00, 25, "new", "Miami", "Ships within 2 days"},
		},
		Style: export.DefaultStyle(),
	}
}

// OffersExport flattens the offers feed into a workbook table.
func (s *QueryService) OffersExport(filter models.OfferFilter) (*export.ExportData, error) {
	if filter.Limit < 1 {
		filter.Limit = 1000
	}
	offers, err := s.offers.ListOut(filter)
	if err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0, len(offers))
	for _, offer := range offers {
		var quantity interface{}
		if offer.Quantity != nil {
			quantity = *offer.Quantity
		}
		rows = append(rows, []interface{}{
			offer.ProductName,
			offer.VendorName,
			offer.Price,
			offer.Currency,
			offer.CapturedAt.Format(time.RFC3339),
			deref(offer.Condition),
			quantity,
			deref(offer.Location),
		})
	}
	return &export.ExportData{
		Title:     "Offers Export",
		CreatedAt: time.Now().UTC(),
		Headers:   []string{"Product", "Vendor", "Price", "Currency", "Captured At", "Condition", "Quantity", "Location"},
		Rows:      rows,
		Style:     export.DefaultStyle(),
	}, nil
}

// PriceListExport builds the per-product price list with each product's
// cheapest current offer.
func (s *QueryService) PriceListExport(limit int) (*export.ExportData, error) {
	if limit < 1 {
		limit = 200
	}
	products, err := s.products.ListSummaries(models.ProductFilter{Limit: limit})
	if err != nil {
		return nil, err
	}

	rows := make([][]interface{}, 0, len(products))
	for _, product := range products {
		if product.OfferCount == 0 {
			continue
		}
		best, err := s.offers.BestForProduct(product.ID, models.BestPriceFilters{}, 1)
		if err != nil {
			return nil, err
		}
		if len(best) == 0 {
			continue
		}
		rows = append(rows, []interface{}{
			product.CanonicalName,
			deref(product.ModelNumber),
			best[0].Price,
			best[0].Currency,
			best[0].VendorName,
			best[0].CapturedAt.Format("2006-01-02"),
		})
	}

	style := export.DefaultStyle()
	style.Orientation = "landscape"
	return &export.ExportData{
		Title:     "Price List",
		CreatedAt: time.Now().UTC(),
		Headers:   []string{"Product", "Model", "Best Price", "Currency", "Vendor", "Captured"},
		Rows:      rows,
		Style:     style,
	}, nil
}
