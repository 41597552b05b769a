package services

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/models"
	"github.com/itsAR-VR/pricebot/internal/modules/pricebot/repositories"
)

// RecordOffer applies one observed price to the (product, vendor) span
// series. Spans stay non-overlapping and ordered by valid_from, at most one
// span is open, and adjacent spans never share (price, currency). The caller
// must hold the pair's row lock: pass a repo bound to the offer's
// transaction.
//
// Replaying the same (product, vendor, captured_at, price) is a no-op.
func RecordOffer(repo repositories.HistoryRepo, offer *models.Offer) error {
	spans, err := repo.SpansForPairLocked(offer.ProductID, offer.VendorID)
	if err != nil {
		return fmt.Errorf("load spans: %w", err)
	}

	t := offer.CapturedAt
	offerID := offer.ID

	if len(spans) == 0 {
		return repo.Insert(newSpan(offer, t, nil))
	}

	// Arrival before every recorded span: backfill a closed span up to the
	// first known price change.
	if t.Before(spans[0].ValidFrom) {
		first := spans[0].ValidFrom
		if err := repo.Insert(newSpan(offer, t, &first)); err != nil {
			return err
		}
		return mergeAdjacentSpans(repo, offer.ProductID, offer.VendorID)
	}

	// Covering span: the last one whose valid_from is not after t.
	idx := 0
	for i := range spans {
		if !t.Before(spans[i].ValidFrom) {
			idx = i
		}
	}
	s := &spans[idx]

	if s.Covers(t) {
		if s.Price == offer.Price && s.Currency == offer.Currency {
			return nil
		}
		if t.Equal(s.ValidFrom) {
			// A split here would leave an empty interval, so the span's
			// price is corrected in place.
			s.Price = offer.Price
			s.Currency = offer.Currency
			s.SourceOfferID = &offerID
			if err := repo.Update(s); err != nil {
				return err
			}
			return mergeAdjacentSpans(repo, offer.ProductID, offer.VendorID)
		}

		originalTo := s.ValidTo
		s.ValidTo = &t
		if err := repo.Update(s); err != nil {
			return err
		}
		if err := repo.Insert(newSpan(offer, t, originalTo)); err != nil {
			return err
		}
		return mergeAdjacentSpans(repo, offer.ProductID, offer.VendorID)
	}

	// Gap after a closed span. Open-ended when nothing follows, otherwise
	// closed at the next span's start.
	var validTo *time.Time
	if idx+1 < len(spans) {
		next := spans[idx+1].ValidFrom
		validTo = &next
	}
	if err := repo.Insert(newSpan(offer, t, validTo)); err != nil {
		return err
	}
	return mergeAdjacentSpans(repo, offer.ProductID, offer.VendorID)
}

func newSpan(offer *models.Offer, from time.Time, to *time.Time) *models.PriceHistorySpan {
	offerID := offer.ID
	return &models.PriceHistorySpan{
		ProductID:     offer.ProductID,
		VendorID:      offer.VendorID,
		Price:         offer.Price,
		Currency:      offer.Currency,
		ValidFrom:     from,
		ValidTo:       to,
		SourceOfferID: &offerID,
	}
}

// mergeAdjacentSpans collapses touching neighbors with identical
// (price, currency) into one span.
func mergeAdjacentSpans(repo repositories.HistoryRepo, productID, vendorID uuid.UUID) error {
	spans, err := repo.SpansForPairLocked(productID, vendorID)
	if err != nil {
		return fmt.Errorf("reload spans: %w", err)
	}

	i := 0
	for i+1 < len(spans) {
		x := &spans[i]
		y := spans[i+1]
		if x.ValidTo != nil && x.ValidTo.Equal(y.ValidFrom) &&
			x.Price == y.Price && x.Currency == y.Currency {
			x.ValidTo = y.ValidTo
			if err := repo.Update(x); err != nil {
				return err
			}
			if err := repo.Delete(y.ID); err != nil {
				return err
			}
			spans = append(spans[:i+1], spans[i+2:]...)
			continue
		}
		i++
	}
	return nil
}
