package api

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"parkledger/internal/config"
	"parkledger/internal/database"
	"parkledger/internal/export"
	"parkledger/internal/index"
	"parkledger/internal/models"
	"parkledger/internal/pricing"
	"parkledger/internal/service"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var slot = time.Date(2030, 1, 1, 10, 0, 0, 0, time.UTC)

type apiFixture struct {
	db     *database.DB
	ledger *service.BookingLedger
	lots   *service.LotService
	http   *HTTPServer
}

func newAPIFixture(t *testing.T, cfg config.APIConfig) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "ledger.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pricer, err := pricing.NewModel(1, models.RoundingHalfUp)
	require.NoError(t, err)

	idx := index.New()
	ledger := service.NewBookingLedger(db, idx, pricer, nil, &logger)
	lots := service.NewLotService(db, idx, &logger)
	require.NoError(t, lots.CreateLot(context.Background(), &models.Lot{
		ID: 1, Name: "Central", Address: "MG Road", Pincode: "560001", PricePerHour: decimal.NewFromInt(20), Capacity: 2,
	}))

	exporter := export.NewExporter(db, t.TempDir(), &logger)

	return &apiFixture{
		db:     db,
		ledger: ledger,
		lots:   lots,
		http:   NewHTTPServer(cfg, ledger, lots, exporter, db, &logger),
	}
}

func openConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		HTTP:    config.APIHTTPConfig{Enabled: true},
		GRPC:    config.APIGRPCConfig{Enabled: true},
	}
}
