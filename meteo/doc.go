// Package meteo is a client for the MET Norway Location Forecast API, used to
// obtain hourly precipitation, temperature and cloud cover for a polder.
//
// Basic Usage:
//
//	client := meteo.NewClient("Peilbeheer/1.0 (beheer@example.com)")
//
//	forecast, err := client.Forecast(ctx, meteo.Location{Latitude: 52.37, Longitude: 4.90})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	for _, h := range forecast.Hourly(time.Now(), 24) {
//		fmt.Printf("%s %.1f mm\n", h.Time.Format("15:04"), h.PrecipitationMM)
//	}
//
// The API requires an identifying User-Agent; requests without one are
// rejected by the server.
//
// For more information about the API, visit: https://api.met.no/weatherapi/locationforecast/2.0/documentation
package meteo
