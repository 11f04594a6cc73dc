package weather

import "time"

// Values is the bag of numeric fields reported for a location. A nil field
// was not present in the provider response.
type Values struct {
	CloudBase                *float64 `json:"cloudBase,omitempty"`
	CloudCeiling             *float64 `json:"cloudCeiling,omitempty"`
	CloudCover               *float64 `json:"cloudCover,omitempty"`
	DewPoint                 *float64 `json:"dewPoint,omitempty"`
	FreezingRainIntensity    *float64 `json:"freezingRainIntensity,omitempty"`
	Humidity                 *float64 `json:"humidity,omitempty"`
	PrecipitationProbability *float64 `json:"precipitationProbability,omitempty"`
	PressureSeaLevel         *float64 `json:"pressureSeaLevel,omitempty"`
	PressureSurfaceLevel     *float64 `json:"pressureSurfaceLevel,omitempty"`
	RainIntensity            *float64 `json:"rainIntensity,omitempty"`
	SleetIntensity           *float64 `json:"sleetIntensity,omitempty"`
	SnowIntensity            *float64 `json:"snowIntensity,omitempty"`
	Temperature              *float64 `json:"temperature,omitempty"`
	TemperatureApparent      *float64 `json:"temperatureApparent,omitempty"`
	UVHealthConcern          *float64 `json:"uvHealthConcern,omitempty"`
	UVIndex                  *float64 `json:"uvIndex,omitempty"`
	Visibility               *float64 `json:"visibility,omitempty"`
	WeatherCode              *float64 `json:"weatherCode,omitempty"`
	WindDirection            *float64 `json:"windDirection,omitempty"`
	WindGust                 *float64 `json:"windGust,omitempty"`
	WindSpeed                *float64 `json:"windSpeed,omitempty"`
}

// ResolvedLocation is the provider's interpretation of the requested location.
type ResolvedLocation struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name,omitempty"`
	Type string  `json:"type,omitempty"`
}

// Observation is a realtime snapshot for one location.
type Observation struct {
	Time     time.Time        `json:"time"`
	Values   *Values          `json:"values"`
	Location ResolvedLocation `json:"location"`
}

// realtimeResponse mirrors GET /weather/realtime.
type realtimeResponse struct {
	Data struct {
		Time   time.Time `json:"time"`
		Values *Values   `json:"values"`
	} `json:"data"`
	Location ResolvedLocation `json:"location"`
}

func (r *realtimeResponse) observation() *Observation {
	return &Observation{
		Time:     r.Data.Time,
		Values:   r.Data.Values,
		Location: r.Location,
	}
}
