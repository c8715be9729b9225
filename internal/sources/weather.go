package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Weather is the current condition at a location. Values are kept as the
// upstream strings.
type Weather struct {
	TempC        string
	FeelsLikeC   string
	Humidity     string
	Description  string
	VisibilityKm string
}

// WeatherProvider reports current weather for a city.
type WeatherProvider interface {
	Current(ctx context.Context, city string) (Weather, error)
}

// WttrProvider reads wttr.in's j1 JSON format.
type WttrProvider struct {
	httpSource
}

// NewWttrProvider creates a wttr.in client.
func NewWttrProvider(baseURL, userAgent string, timeout time.Duration) *WttrProvider {
	return &WttrProvider{httpSource: newHTTPSource(baseURL, "https://wttr.in", userAgent, timeout)}
}

type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		FeelsLikeC  string `json:"FeelsLikeC"`
		Humidity    string `json:"humidity"`
		Visibility  string `json:"visibility"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

// Current implements WeatherProvider.
func (p *WttrProvider) Current(ctx context.Context, city string) (Weather, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return Weather{}, fmt.Errorf("city cannot be empty")
	}

	endpoint := p.baseURL + "/" + url.PathEscape(city) + "?format=j1"

	var payload wttrResponse
	if err := p.getJSON(ctx, endpoint, &payload); err != nil {
		return Weather{}, err
	}

	if len(payload.CurrentCondition) == 0 {
		return Weather{}, ErrNotFound
	}
	cc := payload.CurrentCondition[0]
	if len(cc.WeatherDesc) == 0 {
		return Weather{}, fmt.Errorf("weather for %s has no description", city)
	}

	return Weather{
		TempC:        cc.TempC,
		FeelsLikeC:   cc.FeelsLikeC,
		Humidity:     cc.Humidity,
		Description:  cc.WeatherDesc[0].Value,
		VisibilityKm: cc.Visibility,
	}, nil
}
