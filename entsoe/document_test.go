package entsoe

import (
	"strings"
	"testing"
	"time"
)

// Quarter-hour curve of type A03: position 3 is omitted and repeats 40.00.
const quarterHourXML = `<?xml version="1.0" encoding="UTF-8"?>
<Publication_MarketDocument xmlns="urn:iec62325.351:tc57wg16:451-3:publicationdocument:7:3">
    <mRID>7f3c</mRID>
    <revisionNumber>1</revisionNumber>
    <type>A44</type>
    <createdDateTime>2025-06-01T10:00:00Z</createdDateTime>
    <period.timeInterval>
        <start>2025-06-01T22:00Z</start>
        <end>2025-06-02T00:00Z</end>
    </period.timeInterval>
    <TimeSeries>
        <mRID>1</mRID>
        <businessType>A62</businessType>
        <in_Domain.mRID codingScheme="A01">10YNL----------L</in_Domain.mRID>
        <currency_Unit.name>EUR</currency_Unit.name>
        <price_Measure_Unit.name>MWH</price_Measure_Unit.name>
        <curveType>A03</curveType>
        <Period>
            <timeInterval>
                <start>2025-06-01T22:00Z</start>
                <end>2025-06-02T00:00Z</end>
            </timeInterval>
            <resolution>PT15M</resolution>
            <Point><position>1</position><price.amount>20.00</price.amount></Point>
            <Point><position>2</position><price.amount>40.00</price.amount></Point>
            <Point><position>4</position><price.amount>60.00</price.amount></Point>
            <Point><position>5</position><price.amount>-8.00</price.amount></Point>
            <Point><position>6</position><price.amount>-8.00</price.amount></Point>
            <Point><position>7</position><price.amount>0.00</price.amount></Point>
            <Point><position>8</position><price.amount>16.00</price.amount></Point>
        </Period>
    </TimeSeries>
</Publication_MarketDocument>`

func TestParseResolution(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "hourly", input: "PT60M", expected: time.Hour},
		{name: "1 hour", input: "PT1H", expected: time.Hour},
		{name: "15 minutes", input: "PT15M", expected: 15 * time.Minute},
		{name: "1 day", input: "P1D", expected: 24 * time.Hour},
		{name: "1 week", input: "P1W", expected: 7 * 24 * time.Hour},
		{name: "day and hours", input: "P1DT2H30M", expected: 26*time.Hour + 30*time.Minute},
		{name: "fractional seconds", input: "PT2.5S", expected: 2500 * time.Millisecond},
		{name: "only P", input: "P", expected: 0},
		{name: "missing P", input: "T1H", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "unknown unit", input: "PT1X", wantErr: true},
		{name: "months are ambiguous", input: "P1M", wantErr: true},
		{name: "minutes without T", input: "P15M", wantErr: true},
		{name: "dangling number", input: "PT15", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseResolution(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseResolution(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("ParseResolution(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestParseDateTime(t *testing.T) {
	want := time.Date(2025, 9, 4, 22, 0, 0, 0, time.UTC)
	for _, s := range []string{"2025-09-04T22:00:00Z", "2025-09-04T22:00Z", "2025-09-05T00:00+02:00"} {
		got, err := ParseDateTime(s)
		if err != nil {
			t.Errorf("ParseDateTime(%q) unexpected error: %v", s, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDateTime(%q) = %v, want %v", s, got, want)
		}
	}

	if _, err := ParseDateTime("yesterday"); err == nil {
		t.Error("expected error for unparsable time")
	}
}

func TestDecode(t *testing.T) {
	doc, err := Decode(strings.NewReader(quarterHourXML))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	if doc.Type != "A44" {
		t.Errorf("Type = %q, want A44", doc.Type)
	}
	if len(doc.TimeSeries) != 1 {
		t.Fatalf("len(TimeSeries) = %d, want 1", len(doc.TimeSeries))
	}

	ts := doc.TimeSeries[0]
	if ts.InDomain != "10YNL----------L" {
		t.Errorf("InDomain = %q", ts.InDomain)
	}
	if ts.CurveType != "A03" {
		t.Errorf("CurveType = %q, want A03", ts.CurveType)
	}
	if ts.Period.Resolution != 15*time.Minute {
		t.Errorf("Resolution = %v, want 15m", ts.Period.Resolution)
	}
	if len(ts.Period.Points) != 7 {
		t.Errorf("len(Points) = %d, want 7", len(ts.Period.Points))
	}
	wantStart := time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC)
	if !ts.Period.TimeInterval.Start.Equal(wantStart) {
		t.Errorf("Period start = %v, want %v", ts.Period.TimeInterval.Start, wantStart)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		xml  string
	}{
		{"not xml", "this is not xml"},
		{"bad resolution", strings.Replace(quarterHourXML, "PT15M", "PTXM", 1)},
		{"bad time", strings.Replace(quarterHourXML, "<start>2025-06-01T22:00Z</start>", "<start>soon</start>", 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(tt.xml)); err == nil {
				t.Error("expected decode error")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	day1 := &Document{
		PeriodTimeInterval: TimeInterval{End: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)},
		TimeSeries:         []TimeSeries{{MRID: "1"}},
	}
	day2 := &Document{
		PeriodTimeInterval: TimeInterval{End: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)},
		TimeSeries:         []TimeSeries{{MRID: "2"}},
	}

	merged := merge(day1, day2)
	if len(merged.TimeSeries) != 2 {
		t.Fatalf("len(TimeSeries) = %d, want 2", len(merged.TimeSeries))
	}
	if !merged.PeriodTimeInterval.End.Equal(day2.PeriodTimeInterval.End) {
		t.Errorf("End = %v, want %v", merged.PeriodTimeInterval.End, day2.PeriodTimeInterval.End)
	}
	if len(day1.TimeSeries) != 1 {
		t.Error("merge must not modify its inputs")
	}
	if merge(nil, day2) != day2 || merge(day1, nil) != day1 {
		t.Error("merge with nil must return the other document")
	}
}
