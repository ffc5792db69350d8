// Package entsoe downloads and decodes ENTSO-E day-ahead price documents
// (document type A44) and turns them into hourly energy prices.
package entsoe

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Document is the Publication_MarketDocument root element
type Document struct {
	XMLName            xml.Name     `xml:"Publication_MarketDocument"`
	MRID               string       `xml:"mRID"`
	RevisionNumber     int          `xml:"revisionNumber"`
	Type               string       `xml:"type"`
	CreatedDateTime    string       `xml:"createdDateTime"`
	PeriodTimeInterval TimeInterval `xml:"period.timeInterval"`
	TimeSeries         []TimeSeries `xml:"TimeSeries"`
}

// TimeInterval is a [Start, End) interval
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// UnmarshalXML accepts the shortened timestamps ENTSO-E uses
func (ti *TimeInterval) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		Start string `xml:"start"`
		End   string `xml:"end"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	var err error
	if ti.Start, err = ParseDateTime(aux.Start); err != nil {
		return fmt.Errorf("interval start: %w", err)
	}
	if ti.End, err = ParseDateTime(aux.End); err != nil {
		return fmt.Errorf("interval end: %w", err)
	}
	return nil
}

// Contains reports whether t lies within the interval.
func (ti TimeInterval) Contains(t time.Time) bool {
	return !t.Before(ti.Start) && t.Before(ti.End)
}

// TimeSeries holds the prices of one bidding zone
type TimeSeries struct {
	MRID                 string `xml:"mRID"`
	BusinessType         string `xml:"businessType"`
	InDomain             string `xml:"in_Domain.mRID"`
	CurrencyUnitName     string `xml:"currency_Unit.name"`
	PriceMeasureUnitName string `xml:"price_Measure_Unit.name"`
	CurveType            string `xml:"curveType"`
	Period               Period `xml:"Period"`
}

// Period is a price curve with a fixed resolution
type Period struct {
	TimeInterval TimeInterval
	Resolution   time.Duration
	Points       []Point
}

// UnmarshalXML decodes the ISO 8601 resolution into a time.Duration
func (p *Period) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var aux struct {
		TimeInterval TimeInterval `xml:"timeInterval"`
		Resolution   string       `xml:"resolution"`
		Points       []Point      `xml:"Point"`
	}
	if err := d.DecodeElement(&aux, &start); err != nil {
		return err
	}

	resolution, err := ParseResolution(aux.Resolution)
	if err != nil {
		return fmt.Errorf("period resolution: %w", err)
	}
	if resolution <= 0 {
		return fmt.Errorf("period resolution: %q is not positive", aux.Resolution)
	}
	p.TimeInterval = aux.TimeInterval
	p.Resolution = resolution
	p.Points = aux.Points
	return nil
}

// Point is the price at a 1-based position within a period
type Point struct {
	Position    int     `xml:"position"`
	PriceAmount float64 `xml:"price.amount"`
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04Z07:00",
}

// ParseDateTime parses the timestamp formats found in ENTSO-E documents
func ParseDateTime(s string) (time.Time, error) {
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse time %q", s)
}

// ParseResolution parses an ISO 8601 duration such as PT15M, PT1H or P1D.
// Years and months are not accepted since they have no fixed length.
func ParseResolution(s string) (time.Duration, error) {
	rest, ok := strings.CutPrefix(s, "P")
	if !ok {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range rest {
		switch {
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
			}
			inTime = true
			continue
		case r >= '0' && r <= '9' || r == '.':
			num += string(r)
			continue
		}

		if num == "" {
			return 0, fmt.Errorf("missing value before %q in %q", r, s)
		}
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in %q: %w", s, err)
		}
		num = ""

		var unit time.Duration
		switch {
		case !inTime && r == 'W':
			unit = 7 * 24 * time.Hour
		case !inTime && r == 'D':
			unit = 24 * time.Hour
		case inTime && r == 'H':
			unit = time.Hour
		case inTime && r == 'M':
			unit = time.Minute
		case inTime && r == 'S':
			unit = time.Second
		default:
			return 0, fmt.Errorf("unsupported unit %q in %q", r, s)
		}
		total += time.Duration(v * float64(unit))
	}
	if num != "" {
		return 0, fmt.Errorf("trailing number without unit in %q", s)
	}
	return total, nil
}

// Decode parses a Publication_MarketDocument
func Decode(r io.Reader) (*Document, error) {
	var doc Document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("error parsing XML: %w", err)
	}
	return &doc, nil
}

// merge appends the time series of other and widens the document interval.
func merge(first, second *Document) *Document {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	merged := *first
	merged.TimeSeries = append(append([]TimeSeries(nil), first.TimeSeries...), second.TimeSeries...)
	if second.PeriodTimeInterval.End.After(merged.PeriodTimeInterval.End) {
		merged.PeriodTimeInterval.End = second.PeriodTimeInterval.End
	}
	return &merged
}
