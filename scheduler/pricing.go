package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devskill-org/peilbeheer/entsoe"
	"github.com/devskill-org/peilbeheer/mpc"
)

// GetPriceDocument returns the cached day-ahead price document
func (s *PeilScheduler) GetPriceDocument() *entsoe.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceDocument
}

func downloadPrices(ctx context.Context, cfg *Config) (*entsoe.Document, error) {
	if cfg.SecurityToken == "" {
		return nil, fmt.Errorf("security_token not configured")
	}
	loc, err := time.LoadLocation(cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("invalid location: %w", err)
	}
	client := entsoe.NewClient()
	client.SetTimeout(cfg.APITimeout)
	return client.Download(ctx, cfg.SecurityToken, cfg.UrlFormat, loc)
}

// runPriceUpdate downloads the day-ahead prices and caches them
func (s *PeilScheduler) runPriceUpdate(ctx context.Context) error {
	config := s.GetConfig()

	doc, err := s.fetchPrices(ctx, config)
	if err != nil {
		s.logger.Printf("Error downloading day-ahead prices: %v", err)
		return err
	}

	s.mu.Lock()
	s.priceDocument = doc
	s.mu.Unlock()

	if price, ok := doc.HourlyAverage(s.now()); ok {
		s.logger.Printf("Day-ahead prices updated, current hour: %.2f EUR/MWh", price)
	} else {
		s.logger.Printf("Day-ahead prices updated, no price for the current hour")
	}
	return nil
}

// getPrices returns hourly prices from the start of the hour containing
// from, including fees. It uses the cached document and downloads a new one
// when the cache does not cover the first hour.
func (s *PeilScheduler) getPrices(ctx context.Context, from time.Time, hours int) ([]mpc.EnergyPricePoint, error) {
	config := s.GetConfig()

	doc := s.GetPriceDocument()
	var prices []mpc.EnergyPricePoint
	var err error
	if doc != nil {
		prices, err = doc.HourlyPrices(from, hours)
	}
	if doc == nil || errors.Is(err, entsoe.ErrNoPrices) || len(prices) < hours {
		if err := s.runPriceUpdate(ctx); err != nil {
			if len(prices) > 0 {
				s.logger.Printf("Using %d cached hours of prices", len(prices))
				return s.withFees(config, prices), nil
			}
			return nil, fmt.Errorf("failed to get prices: %w", err)
		}
		prices, err = s.GetPriceDocument().HourlyPrices(from, hours)
	}
	if err != nil {
		return nil, err
	}
	return s.withFees(config, prices), nil
}

// withFees adds the operator and delivery fees to the spot prices.
func (s *PeilScheduler) withFees(config *Config, prices []mpc.EnergyPricePoint) []mpc.EnergyPricePoint {
	fee := config.ImportPriceOperatorFee + config.ImportPriceDeliveryFee
	out := make([]mpc.EnergyPricePoint, len(prices))
	for i, p := range prices {
		out[i] = mpc.EnergyPricePoint{HourStart: p.HourStart, PriceEURPerMWh: p.PriceEURPerMWh + fee}
	}
	return out
}
