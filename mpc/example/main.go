package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/devskill-org/peilbeheer/hydro"
	"github.com/devskill-org/peilbeheer/mpc"
)

// Example usage
func main() {
	ground := -0.2
	terminalMax := -1.30

	// A 40 ha polder drained by a 2 m³/s gemaal
	config := mpc.SystemConfig{
		Area: hydro.Area{
			Code:              "PG-0421",
			TargetLevelSummer: -1.35,
			TargetLevelWinter: -1.50,
			SurfaceArea:       400000,
			BedLevel:          -3.0,
			GroundLevel:       &ground,
			CurrentLevel:      -1.25,
		},
		PumpCapacity: 2.0,   // m³/s
		PumpPower:    110.0, // kW
		Direction:    mpc.Drain,
		MinLevel:     -1.60,
		MaxLevel:     -1.10,
		TerminalMax:  &terminalMax,
	}

	start := time.Now().UTC().Truncate(time.Hour)
	prices := make([]mpc.EnergyPricePoint, 24)
	inflow := make([]float64, 24)
	for i := range 24 {
		// Cheap at night, expensive during the day
		price := 45.0
		if i >= 8 && i <= 20 {
			price = 95.0 + 30*math.Sin(float64(i-8)/12.0*math.Pi)
		}
		prices[i] = mpc.EnergyPricePoint{HourStart: start.Add(time.Duration(i) * time.Hour), PriceEURPerMWh: price}

		// A shower in the afternoon
		inflow[i] = 0.15
		if i >= 14 && i <= 16 {
			inflow[i] = 1.2
		}
	}
	config.NetInflow = inflow

	controller, err := mpc.NewController(config)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	fmt.Println("Gemaal Pump Schedule Optimization")
	fmt.Println("=================================")
	fmt.Printf("Initial level: %.2f m NAP\n\n", config.Area.CurrentLevel)

	startTime := time.Now()
	schedule, err := controller.Optimize(context.Background(), prices)
	if err != nil {
		log.Fatalf("optimization failed: %v", err)
	}
	fmt.Printf("Optimization completed in %v\n\n", time.Since(startTime))

	fmt.Println("Hour  | Price €/MWh | Inflow | Pump  | Level   | Cost €")
	fmt.Println("------|-------------|--------|-------|---------|-------")
	for i, e := range schedule.Entries() {
		fmt.Printf("%s | %11.2f | %6.2f | %4.0f%% | %7.3f | %6.2f\n",
			e.HourStart.Format("15:04"),
			e.PriceEURPerMWh,
			inflow[i],
			e.Fraction*100,
			e.Level,
			e.ExpectedCost,
		)
	}

	fmt.Printf("\nTotal cost (24h): €%.2f\n", schedule.TotalCost())
	fmt.Printf("Total energy: %.3f MWh\n", schedule.TotalEnergy())
}
