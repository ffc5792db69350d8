// Package main prints the hourly precipitation forecast for a polder location.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/devskill-org/peilbeheer/meteo"
)

func main() {
	client := meteo.NewClient("peilbeheer-example/1.0 (ops@example.com)")

	location := meteo.Location{
		Latitude:  52.3676,
		Longitude: 4.9041,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	forecast, err := client.Forecast(ctx, location)
	if err != nil {
		var apiErr *meteo.APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			log.Fatalf("MET API temporarily unavailable (%d), try again later", apiErr.StatusCode)
		}
		log.Fatalf("Failed to get forecast: %v", err)
	}

	fmt.Printf("Forecast for (%.4f, %.4f), updated %s\n\n",
		location.Latitude, location.Longitude,
		forecast.Properties.Meta.UpdatedAt.Format(time.RFC3339))
	fmt.Println("Hour              Rain (mm)  Temp (°C)  Cloud")
	fmt.Println("----------------  ---------  ---------  -----")

	total := 0.0
	for _, h := range forecast.Hourly(time.Now(), 24) {
		total += h.PrecipitationMM
		fmt.Printf("%s  %9.1f  %9.1f  %4.0f%%\n",
			h.Time.Local().Format("2006-01-02 15:04"), h.PrecipitationMM, h.TemperatureC, h.CloudFraction*100)
	}
	fmt.Printf("\nTotal precipitation next 24h: %.1f mm\n", total)
}
