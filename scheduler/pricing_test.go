package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/devskill-org/peilbeheer/entsoe"
	"github.com/devskill-org/peilbeheer/mpc"
)

func TestWithFees(t *testing.T) {
	config := DefaultConfig()
	config.ImportPriceOperatorFee = 4
	config.ImportPriceDeliveryFee = 35
	s := NewPeilScheduler(config, nil)

	hour := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	in := []mpc.EnergyPricePoint{
		{HourStart: hour, PriceEURPerMWh: 50},
		{HourStart: hour.Add(time.Hour), PriceEURPerMWh: -60},
	}
	out := s.withFees(config, in)

	if out[0].PriceEURPerMWh != 89 || out[1].PriceEURPerMWh != -21 {
		t.Errorf("Unexpected prices with fees: %+v", out)
	}
	if in[0].PriceEURPerMWh != 50 {
		t.Error("withFees must not modify its input")
	}
	if !out[1].HourStart.Equal(in[1].HourStart) {
		t.Error("withFees must keep the hour")
	}
}

func TestGetPrices_DownloadsWhenEmpty(t *testing.T) {
	config := DefaultConfig()
	config.ImportPriceOperatorFee = 0
	config.ImportPriceDeliveryFee = 0
	s := newTestScheduler(t, config, nil)

	prices, err := s.getPrices(context.Background(), testNow, 24)
	if err != nil {
		t.Fatalf("getPrices: %v", err)
	}
	if len(prices) != 24 {
		t.Fatalf("Expected 24 prices, got %d", len(prices))
	}
	if !prices[0].HourStart.Equal(testNow.Truncate(time.Hour)) {
		t.Errorf("Expected first hour %v, got %v", testNow.Truncate(time.Hour), prices[0].HourStart)
	}
	if prices[0].PriceEURPerMWh != 80 || prices[2].PriceEURPerMWh != 10 {
		t.Errorf("Unexpected prices: %.2f %.2f", prices[0].PriceEURPerMWh, prices[2].PriceEURPerMWh)
	}
	if s.GetPriceDocument() == nil {
		t.Error("Expected the downloaded document to be cached")
	}
}

func TestGetPrices_UsesCacheWhenDownloadFails(t *testing.T) {
	config := DefaultConfig()
	s := newTestScheduler(t, config, nil)

	// 12 hours cached, the download for the remaining hours fails
	short, err := entsoe.Decode(strings.NewReader(priceXML(testNow.Truncate(time.Hour), testPrices()[:12])))
	if err != nil {
		t.Fatal(err)
	}
	s.priceDocument = short
	s.fetchPrices = func(context.Context, *Config) (*entsoe.Document, error) {
		return nil, errors.New("service unavailable")
	}

	prices, err := s.getPrices(context.Background(), testNow, 24)
	if err != nil {
		t.Fatalf("getPrices: %v", err)
	}
	if len(prices) != 12 {
		t.Errorf("Expected the 12 cached hours, got %d", len(prices))
	}
	fee := config.ImportPriceOperatorFee + config.ImportPriceDeliveryFee
	if prices[0].PriceEURPerMWh != 80+fee {
		t.Errorf("Expected price with fees %.2f, got %.2f", 80+fee, prices[0].PriceEURPerMWh)
	}
}

func TestGetPrices_NoPrices(t *testing.T) {
	s := newTestScheduler(t, DefaultConfig(), nil)
	s.fetchPrices = func(context.Context, *Config) (*entsoe.Document, error) {
		return nil, errors.New("service unavailable")
	}

	if _, err := s.getPrices(context.Background(), testNow, 24); err == nil {
		t.Error("Expected error without any prices")
	}
}

func TestDownloadPrices(t *testing.T) {
	xmlData := priceXML(time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC), testPrices()[:24])
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Query().Get("token") != "test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(xmlData))
	}))
	defer server.Close()

	config := DefaultConfig()
	config.SecurityToken = "test-token"
	config.UrlFormat = server.URL + "?periodStart=%s&periodEnd=%s&token=%s"

	doc, err := downloadPrices(context.Background(), config)
	if err != nil {
		t.Fatalf("downloadPrices: %v", err)
	}
	if doc == nil || len(doc.TimeSeries) == 0 {
		t.Fatal("Expected a document with time series")
	}
	if requests == 0 {
		t.Error("Expected at least one request")
	}
}

func TestDownloadPrices_RequiresToken(t *testing.T) {
	config := DefaultConfig()
	config.SecurityToken = ""

	if _, err := downloadPrices(context.Background(), config); err == nil {
		t.Error("Expected error without security token")
	}
}
