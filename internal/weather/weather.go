// Package weather resolves the hatch environment from device coordinates using
// the Open-Meteo forecast API.
package weather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/robalobadob/poco/internal/genesis"
)

// DefaultBaseURL is the public Open-Meteo endpoint.
const DefaultBaseURL = "https://api.open-meteo.com"

// Client queries current conditions.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Now     func() time.Time // fallback clock when the response has no local time
}

// New returns a client for baseURL (DefaultBaseURL when empty).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Now:     time.Now,
	}
}

// Lookup returns the environment at the given coordinates. On any failure it
// returns the default environment together with the error, so callers may log
// and carry on.
func (c *Client) Lookup(ctx context.Context, lat, lon float64) (genesis.Environment, error) {
	env := genesis.DefaultEnvironment()

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("current_weather", "true")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return env, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return env, fmt.Errorf("weather: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return env, fmt.Errorf("weather: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return env, fmt.Errorf("weather: read: %w", err)
	}

	cur := gjson.GetBytes(body, "current_weather")
	temp, code := cur.Get("temperature"), cur.Get("weathercode")
	if !temp.Exists() || !code.Exists() {
		return env, errors.New("weather: response missing current_weather")
	}

	hour := c.Now().Hour()
	if t, err := time.Parse("2006-01-02T15:04", cur.Get("time").String()); err == nil {
		hour = t.Hour()
	}

	env.Temp = temp.Float()
	env.Weather = Bucket(int(code.Int()))
	env.Time = TimeOfDay(hour)
	return env, nil
}

// Bucket maps a WMO weather code onto one of the four weather buckets.
func Bucket(code int) string {
	switch {
	case code >= 80:
		return genesis.WeatherStorm
	case code >= 70:
		return genesis.WeatherSnow
	case code >= 50:
		return genesis.WeatherRain
	default:
		return genesis.WeatherClear
	}
}

// TimeOfDay buckets a local hour: before 06:00 or after 18:59 is night.
func TimeOfDay(hour int) string {
	if hour < 6 || hour > 18 {
		return genesis.TimeNight
	}
	return genesis.TimeDay
}
