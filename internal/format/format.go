// Package format renders NormalizedWeather into the wire formats of the weather endpoint.
package format

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-api/internal/models"
)

// Format is a requested output encoding.
type Format string

const (
	JSON Format = "json"
	XML  Format = "xml"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeXML  = "application/xml"
)

// temperatureSuffix is appended to the temperature in the JSON rendering only.
const temperatureSuffix = " C"

// Rendered is a response body with its media type.
type Rendered struct {
	ContentType string
	Body        []byte
}

// jsonWeather fixes the key order of the JSON rendering.
type jsonWeather struct {
	Weather   string `json:"Weather"`
	Latitude  string `json:"Latitude"`
	Longitude string `json:"Longitude"`
	City      string `json:"City"`
}

type xmlWeather struct {
	XMLName     xml.Name `xml:"root"`
	Temperature string   `xml:"Temperature"`
	City        string   `xml:"City"`
	Latitude    string   `xml:"Latitude"`
	Longitude   string   `xml:"Longitude"`
}

// Render encodes w in format f. Exactly one encoder runs per call.
func Render(w models.NormalizedWeather, f Format) (Rendered, error) {
	switch f {
	case JSON:
		body, err := EncodeJSON(w)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{ContentType: ContentTypeJSON, Body: body}, nil
	case XML:
		body, err := EncodeXML(w)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{ContentType: ContentTypeXML, Body: body}, nil
	default:
		return Rendered{}, fmt.Errorf("unsupported output format %q", f)
	}
}

// EncodeJSON renders {"Weather":"<temp> C","Latitude":..,"Longitude":..,"City":..}.
func EncodeJSON(w models.NormalizedWeather) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(jsonWeather{
		Weather:   formatNumber(w.TemperatureCelsius) + temperatureSuffix,
		Latitude:  formatNumber(w.Latitude),
		Longitude: formatNumber(w.Longitude),
		City:      w.CityName,
	}); err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EncodeXML renders <root> with Temperature, City, Latitude, Longitude in that order.
func EncodeXML(w models.NormalizedWeather) ([]byte, error) {
	body, err := xml.Marshal(xmlWeather{
		Temperature: formatNumber(w.TemperatureCelsius),
		City:        w.CityName,
		Latitude:    formatNumber(w.Latitude),
		Longitude:   formatNumber(w.Longitude),
	})
	if err != nil {
		return nil, fmt.Errorf("encode xml: %w", err)
	}
	return body, nil
}

// DecodeJSON parses a body produced by EncodeJSON.
func DecodeJSON(body []byte) (models.NormalizedWeather, error) {
	var jw jsonWeather
	if err := json.Unmarshal(body, &jw); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("decode json: %w", err)
	}
	temp, ok := strings.CutSuffix(jw.Weather, temperatureSuffix)
	if !ok {
		return models.NormalizedWeather{}, fmt.Errorf("decode json: Weather %q lacks %q suffix", jw.Weather, temperatureSuffix)
	}
	return parseFields(temp, jw.Latitude, jw.Longitude, jw.City)
}

// DecodeXML parses a body produced by EncodeXML.
func DecodeXML(body []byte) (models.NormalizedWeather, error) {
	var xw xmlWeather
	if err := xml.Unmarshal(body, &xw); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("decode xml: %w", err)
	}
	return parseFields(xw.Temperature, xw.Latitude, xw.Longitude, xw.City)
}

func parseFields(temp, lat, lon, city string) (models.NormalizedWeather, error) {
	var out models.NormalizedWeather
	var err error
	if out.TemperatureCelsius, err = strconv.ParseFloat(temp, 64); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("temperature: %w", err)
	}
	if out.Latitude, err = strconv.ParseFloat(lat, 64); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("latitude: %w", err)
	}
	if out.Longitude, err = strconv.ParseFloat(lon, 64); err != nil {
		return models.NormalizedWeather{}, fmt.Errorf("longitude: %w", err)
	}
	out.CityName = city
	return out, nil
}

// formatNumber renders the shortest decimal that parses back to v exactly. Fixed
// notation always carries a fractional part ("25.0", not "25"); magnitudes below 1e-4
// or from 1e16 up switch to exponent form ("1e-07").
func formatNumber(v float64) string {
	if abs := math.Abs(v); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
