package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"parkledger/internal/domain"
	"parkledger/internal/index"
	"parkledger/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LotService manages the lot inventory the ledger books against.
type LotService struct {
	repo   domain.LotStore
	index  *index.Index
	logger *zerolog.Logger
}

func NewLotService(repo domain.LotStore, idx *index.Index, logger *zerolog.Logger) *LotService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &LotService{repo: repo, index: idx, logger: logger}
}

func validateLot(lot *models.Lot) error {
	if lot == nil {
		return fmt.Errorf("%w: lot is required", domain.ErrValidation)
	}
	if strings.TrimSpace(lot.Name) == "" {
		return fmt.Errorf("%w: lot name is required", domain.ErrValidation)
	}
	if err := validateRate(lot.PricePerHour); err != nil {
		return err
	}
	if lot.Capacity < 0 {
		return fmt.Errorf("%w: capacity must not be negative", domain.ErrValidation)
	}

	seen := make(map[int]bool, len(lot.Spots))
	for _, n := range lot.Spots {
		if n <= 0 || seen[n] {
			return fmt.Errorf("%w: invalid or duplicate spot number %d", domain.ErrValidation, n)
		}
		seen[n] = true
	}
	if len(lot.SpotNumbers()) == 0 {
		return fmt.Errorf("%w: lot needs at least one spot", domain.ErrValidation)
	}
	return nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() {
		return fmt.Errorf("%w: price_per_hour must be a non-negative number", domain.ErrValidation)
	}
	return nil
}

// CreateLot stores a new lot, or replaces the lot with the same ID. Removing
// a spot that still holds an active booking fails with domain.ErrLotInUse.
func (s *LotService) CreateLot(ctx context.Context, lot *models.Lot) error {
	if err := validateLot(lot); err != nil {
		return err
	}
	if err := s.repo.UpsertLot(ctx, lot); err != nil {
		return err
	}
	s.logger.Info().Int64("lot_id", lot.ID).Int("spots", len(lot.SpotNumbers())).Msg("lot saved")
	return nil
}

// SeedLots creates the configured lots that the store does not hold yet.
// A lot already present is left alone, so rate and spot changes made
// through the API survive restarts.
func (s *LotService) SeedLots(ctx context.Context, lots []models.Lot) error {
	for i := range lots {
		lot := lots[i]
		_, err := s.repo.GetLot(ctx, lot.ID)
		if err == nil {
			s.logger.Debug().Int64("lot_id", lot.ID).Msg("lot already stored, skipping seed")
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("seed lot %d: %w", lot.ID, err)
		}
		if err := s.CreateLot(ctx, &lot); err != nil {
			return fmt.Errorf("seed lot %d: %w", lot.ID, err)
		}
	}
	return nil
}

func (s *LotService) GetLot(ctx context.Context, id int64) (*models.Lot, error) {
	return s.repo.GetLot(ctx, id)
}

func (s *LotService) ListLots(ctx context.Context) ([]*models.Lot, error) {
	return s.repo.ListLots(ctx)
}

// UpdateRate changes the rate for future bookings; existing bookings keep
// the rate they were priced at.
func (s *LotService) UpdateRate(ctx context.Context, id int64, pricePerHour decimal.Decimal) error {
	if err := validateRate(pricePerHour); err != nil {
		return err
	}
	if err := s.repo.UpdateLotRate(ctx, id, pricePerHour); err != nil {
		return err
	}
	s.logger.Info().Int64("lot_id", id).Str("price_per_hour", pricePerHour.String()).Msg("lot rate updated")
	return nil
}

func (s *LotService) DeleteLot(ctx context.Context, id int64) error {
	if err := s.repo.DeleteLot(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		s.index.DropLot(id)
	}
	s.logger.Info().Int64("lot_id", id).Msg("lot deleted")
	return nil
}
