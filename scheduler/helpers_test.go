package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devskill-org/peilbeheer/entsoe"
	"github.com/devskill-org/peilbeheer/gemaal"
	"github.com/devskill-org/peilbeheer/meteo"
)

// testNow is 00:30 UTC, half an hour into the first hour of the price fixture.
var testNow = time.Date(2025, 6, 2, 0, 30, 0, 0, time.UTC)

// priceXML renders an hourly A44 document starting at start.
func priceXML(start time.Time, prices []float64) string {
	end := start.Add(time.Duration(len(prices)) * time.Hour)
	var points strings.Builder
	for i, p := range prices {
		fmt.Fprintf(&points, "<Point><position>%d</position><price.amount>%.2f</price.amount></Point>\n", i+1, p)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
    <mRID>test</mRID>
    <revisionNumber>1</revisionNumber>
    <type>A44</type>
    <createdDateTime>2025-06-01T10:00:00Z</createdDateTime>
    <period.timeInterval>
        <start>%[1]s</start>
        <end>%[2]s</end>
    </period.timeInterval>
    <TimeSeries>
        <mRID>1</mRID>
        <businessType>A62</businessType>
        <currency_Unit.name>EUR</currency_Unit.name>
        <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
        <curveType>A01</curveType>
        <Period>
            <timeInterval>
                <start>%[1]s</start>
                <end>%[2]s</end>
            </timeInterval>
            <resolution>PT60M</resolution>
            %[3]s
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`, start.Format("2006-01-02T15:04Z"), end.Format("2006-01-02T15:04Z"), points.String())
}

// testPrices returns 48 hourly prices from midnight UTC of testNow: 80
// EUR/MWh with cheap hours 02:00-07:00 on both days.
func testPrices() []float64 {
	prices := make([]float64, 48)
	for i := range prices {
		prices[i] = 80
		if h := i % 24; h >= 2 && h < 8 {
			prices[i] = 10
		}
	}
	return prices
}

func testDocument(t *testing.T) *entsoe.Document {
	t.Helper()
	doc, err := entsoe.Decode(strings.NewReader(priceXML(testNow.Truncate(time.Hour), testPrices())))
	if err != nil {
		t.Fatalf("Failed to decode price fixture: %v", err)
	}
	return doc
}

// fakeGemaal records the commands written to it.
type fakeGemaal struct {
	mu        sync.Mutex
	status    gemaal.Status
	readErr   error
	writeErr  error
	setpoints []float64
	remote    []bool
	closed    int
}

func (f *fakeGemaal) ReadStatus() (*gemaal.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	s := f.status
	return &s, nil
}

func (f *fakeGemaal) SetRemoteControl(enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.remote = append(f.remote, enable)
	return nil
}

func (f *fakeGemaal) WriteSetpoint(fraction float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.setpoints = append(f.setpoints, fraction)
	return nil
}

func (f *fakeGemaal) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeGemaal) writtenSetpoints() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]float64(nil), f.setpoints...)
}

var errNoForecast = errors.New("forecast unavailable")

// newTestScheduler returns a scheduler with a fixed clock, the price fixture,
// no forecast and fake as its gemaal.
func newTestScheduler(t *testing.T, config *Config, fake *fakeGemaal) *PeilScheduler {
	t.Helper()
	doc := testDocument(t)

	s := NewPeilScheduler(config, log.New(io.Discard, "", 0))
	s.now = func() time.Time { return testNow }
	s.fetchPrices = func(context.Context, *Config) (*entsoe.Document, error) {
		return doc, nil
	}
	s.fetchForecast = func(context.Context, *Config) (*meteo.METJSONForecast, error) {
		return nil, errNoForecast
	}
	s.dialGemaal = func(*Config) (gemaalController, error) {
		if fake == nil {
			return nil, errors.New("no gemaal")
		}
		return fake, nil
	}
	return s
}

func floatPtr(v float64) *float64 { return &v }
