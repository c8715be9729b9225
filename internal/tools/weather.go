package tools

import (
	"context"
	"log/slog"

	"github.com/hession/toolgate/internal/logger"
	"github.com/hession/toolgate/internal/sources"
)

const weatherUnavailable = "无法获取天气数据，请检查城市名称是否正确。"

// WeatherTool reports current weather for a city.
type WeatherTool struct {
	provider sources.WeatherProvider
	log      *slog.Logger
}

// WeatherReport is the result of get_weather.
type WeatherReport struct {
	Location    string `json:"location"`
	Temperature string `json:"temperature"`
	FeelsLike   string `json:"feelslike"`
	Humidity    string `json:"humidity"`
	WeatherDesc string `json:"weather_desc"`
	Visibility  string `json:"visibility"`
}

// NewWeatherTool creates the get_weather tool.
func NewWeatherTool(provider sources.WeatherProvider, log *slog.Logger) *WeatherTool {
	return &WeatherTool{provider: provider, log: logger.OrDefault(log)}
}

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "获取指定城市的当前天气信息（温度、湿度、描述）"
}

func (t *WeatherTool) InputSchema() InputSchema {
	return ObjectSchema(map[string]Property{
		"city": {Type: "string", Description: "城市名称，例如 Beijing, Shanghai"},
	}, "city")
}

// Execute never returns an error; upstream failures become a soft error.
func (t *WeatherTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	city, ok := stringParam(params, "city")
	if !ok {
		return SoftError(weatherUnavailable), nil
	}

	w, err := t.provider.Current(ctx, city)
	if err != nil {
		t.log.Warn("weather lookup failed", "city", city, "error", err)
		return SoftError(weatherUnavailable), nil
	}

	return WeatherReport{
		Location:    city,
		Temperature: w.TempC + "°C",
		FeelsLike:   w.FeelsLikeC + "°C",
		Humidity:    w.Humidity + "%",
		WeatherDesc: w.Description,
		Visibility:  w.VisibilityKm + " km",
	}, nil
}
