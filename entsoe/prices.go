package entsoe

import (
	"errors"
	"fmt"
	"time"

	"github.com/devskill-org/peilbeheer/mpc"
)

// ErrNoPrices is returned when a document has no price for the requested hour.
var ErrNoPrices = errors.New("no prices available")

// PriceAt returns the price of the interval containing t. Positions omitted
// from the curve repeat the price of the preceding point.
func (p *Period) PriceAt(t time.Time) (float64, bool) {
	if !p.TimeInterval.Contains(t) || p.Resolution <= 0 {
		return 0, false
	}
	position := int(t.Sub(p.TimeInterval.Start)/p.Resolution) + 1

	found := false
	var price float64
	for _, pt := range p.Points {
		if pt.Position > position {
			break
		}
		price, found = pt.PriceAmount, true
	}
	return price, found
}

// hourAverage averages all positions of the period that fall in the hour
// starting at hourStart.
func (p *Period) hourAverage(hourStart time.Time) (float64, bool) {
	if p.Resolution <= 0 {
		return 0, false
	}
	var sum float64
	var count int
	for t := hourStart; t.Before(hourStart.Add(time.Hour)); t = t.Add(min(p.Resolution, time.Hour)) {
		if price, ok := p.PriceAt(t); ok {
			sum += price
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// PriceAt returns the price at t from the first time series that covers it.
func (d *Document) PriceAt(t time.Time) (float64, bool) {
	for i := range d.TimeSeries {
		if price, ok := d.TimeSeries[i].Period.PriceAt(t); ok {
			return price, true
		}
	}
	return 0, false
}

// HourlyAverage returns the average price of the hour containing t.
func (d *Document) HourlyAverage(t time.Time) (float64, bool) {
	hour := t.Truncate(time.Hour)
	for i := range d.TimeSeries {
		if avg, ok := d.TimeSeries[i].Period.hourAverage(hour); ok {
			return avg, true
		}
	}
	return 0, false
}

// HourlyPrices returns up to hours consecutive hourly prices starting at the
// hour containing from. The result stops at the first hour without a price.
func (d *Document) HourlyPrices(from time.Time, hours int) ([]mpc.EnergyPricePoint, error) {
	start := from.Truncate(time.Hour)
	out := make([]mpc.EnergyPricePoint, 0, hours)
	for h := 0; h < hours; h++ {
		hour := start.Add(time.Duration(h) * time.Hour)
		avg, ok := d.HourlyAverage(hour)
		if !ok {
			break
		}
		out = append(out, mpc.EnergyPricePoint{HourStart: hour, PriceEURPerMWh: avg})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w from %s", ErrNoPrices, start.Format(time.RFC3339))
	}
	return out, nil
}
