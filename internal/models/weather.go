package models

// WeatherQuery is the body of POST /api/v1/getCurrentWeather.
type WeatherQuery struct {
	City         string `json:"city" validate:"required,city,max=100"`
	OutputFormat string `json:"output_format" validate:"required,oneof=json xml"`
}

// NormalizedWeather is the provider response reduced to the fields the API returns.
// A value is only produced when all four fields were present upstream.
type NormalizedWeather struct {
	TemperatureCelsius float64
	Latitude           float64
	Longitude          float64
	CityName           string
}
