// Package weather fetches forecasts from the Open-Meteo API and
// exposes the weather capability.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nugget/reeve/internal/capability"
	"github.com/nugget/reeve/internal/config"
	"github.com/nugget/reeve/internal/httpkit"
)

const defaultBaseURL = "https://api.open-meteo.com"

// wmoDescriptions maps WMO weather interpretation codes to short
// human descriptions.
var wmoDescriptions = map[int]string{
	0:  "clear sky",
	1:  "mainly clear",
	2:  "partly cloudy",
	3:  "overcast",
	45: "fog",
	48: "depositing rime fog",
	51: "light drizzle",
	53: "moderate drizzle",
	55: "dense drizzle",
	61: "light rain",
	63: "moderate rain",
	65: "heavy rain",
	66: "light freezing rain",
	67: "heavy freezing rain",
	71: "light snow",
	73: "moderate snow",
	75: "heavy snow",
	77: "snow grains",
	80: "light rain showers",
	81: "moderate rain showers",
	82: "violent rain showers",
	85: "light snow showers",
	86: "heavy snow showers",
	95: "thunderstorm",
	96: "thunderstorm with light hail",
	99: "thunderstorm with heavy hail",
}

func describeCode(code int) string {
	if desc, ok := wmoDescriptions[code]; ok {
		return desc
	}
	return fmt.Sprintf("unknown conditions (code %d)", code)
}

// Client queries the Open-Meteo forecast API. No authentication is
// required.
type Client struct {
	baseURL    string
	location   config.LocationConfig
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API endpoint, used in tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// NewClient creates an Open-Meteo client for the configured home
// location.
func NewClient(loc config.LocationConfig, opts ...Option) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		location: loc,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Current is the current conditions block of a forecast response.
type Current struct {
	Temperature float64 `json:"temperature_2m"`
	Humidity    float64 `json:"relative_humidity_2m"`
	WindSpeed   float64 `json:"wind_speed_10m"`
	WeatherCode int     `json:"weather_code"`
}

// Day is one daily forecast row.
type Day struct {
	Date        string
	TempMax     float64
	TempMin     float64
	WeatherCode int
	PrecipProb  int
}

// Forecast holds current conditions plus the daily outlook.
type Forecast struct {
	Current Current
	Days    []Day
}

// Fetch retrieves the forecast for the configured location.
func (c *Client) Fetch(ctx context.Context, days int) (*Forecast, error) {
	if days < 1 {
		days = 1
	}
	if days > 7 {
		days = 7
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", c.location.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", c.location.Longitude))
	q.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code")
	q.Set("daily", "temperature_2m_max,temperature_2m_min,weather_code,precipitation_probability_max")
	q.Set("forecast_days", fmt.Sprintf("%d", days))
	q.Set("timezone", c.location.Timezone)

	reqURL := c.baseURL + "/v1/forecast?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("open-meteo error %d: %s", resp.StatusCode, body)
	}

	var raw struct {
		Current Current `json:"current"`
		Daily   struct {
			Time        []string  `json:"time"`
			TempMax     []float64 `json:"temperature_2m_max"`
			TempMin     []float64 `json:"temperature_2m_min"`
			WeatherCode []int     `json:"weather_code"`
			PrecipProb  []int     `json:"precipitation_probability_max"`
		} `json:"daily"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode forecast: %w", err)
	}

	f := &Forecast{Current: raw.Current}
	for i, date := range raw.Daily.Time {
		d := Day{Date: date}
		if i < len(raw.Daily.TempMax) {
			d.TempMax = raw.Daily.TempMax[i]
		}
		if i < len(raw.Daily.TempMin) {
			d.TempMin = raw.Daily.TempMin[i]
		}
		if i < len(raw.Daily.WeatherCode) {
			d.WeatherCode = raw.Daily.WeatherCode[i]
		}
		if i < len(raw.Daily.PrecipProb) {
			d.PrecipProb = raw.Daily.PrecipProb[i]
		}
		f.Days = append(f.Days, d)
	}
	return f, nil
}

// NewBuilder returns the capability builder for weather forecasts.
func NewBuilder(loc config.LocationConfig) capability.Builder {
	return capability.Builder{
		Name: "weather",
		Build: func(ctx context.Context) ([]*capability.Capability, error) {
			if loc.Latitude == 0 && loc.Longitude == 0 {
				return nil, fmt.Errorf("home location not configured")
			}
			c := NewClient(loc)
			return c.Capabilities(), nil
		},
	}
}

// Capabilities returns the weather capability backed by this client.
func (c *Client) Capabilities() []*capability.Capability {
	return []*capability.Capability{
		{
			Name:        "get_weather",
			Description: "Get current weather and the forecast for the home location.",
			Domain:      capability.DomainGeneral,
			Params: []capability.Param{
				{Name: "days", Type: "integer", Description: "Forecast days (1-7)", Default: 3},
			},
			Handler: c.handleWeather,
		},
	}
}

func (c *Client) handleWeather(ctx context.Context, args map[string]any) (any, error) {
	days := 3
	if v, ok := args["days"].(float64); ok && v > 0 {
		days = int(v)
	}

	f, err := c.Fetch(ctx, days)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Now: %.0f°, %s, humidity %.0f%%, wind %.0f km/h\n",
		f.Current.Temperature, describeCode(f.Current.WeatherCode),
		f.Current.Humidity, f.Current.WindSpeed)
	for _, d := range f.Days {
		fmt.Fprintf(&b, "%s: %.0f°/%.0f°, %s", d.Date, d.TempMax, d.TempMin, describeCode(d.WeatherCode))
		if d.PrecipProb > 0 {
			fmt.Fprintf(&b, ", %d%% chance of precipitation", d.PrecipProb)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
