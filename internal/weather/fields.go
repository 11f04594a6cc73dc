package weather

import "strings"

// fieldReaders maps lower-cased parameter names to the observation field they read.
var fieldReaders = map[string]func(*Values) *float64{
	"cloudbase":                func(v *Values) *float64 { return v.CloudBase },
	"cloudceiling":             func(v *Values) *float64 { return v.CloudCeiling },
	"cloudcover":               func(v *Values) *float64 { return v.CloudCover },
	"dewpoint":                 func(v *Values) *float64 { return v.DewPoint },
	"freezingrainintensity":    func(v *Values) *float64 { return v.FreezingRainIntensity },
	"humidity":                 func(v *Values) *float64 { return v.Humidity },
	"precipitationprobability": func(v *Values) *float64 { return v.PrecipitationProbability },
	"pressuresealevel":         func(v *Values) *float64 { return v.PressureSeaLevel },
	"pressuresurfacelevel":     func(v *Values) *float64 { return v.PressureSurfaceLevel },
	"rainintensity":            func(v *Values) *float64 { return v.RainIntensity },
	"sleetintensity":           func(v *Values) *float64 { return v.SleetIntensity },
	"snowintensity":            func(v *Values) *float64 { return v.SnowIntensity },
	"temperature":              func(v *Values) *float64 { return v.Temperature },
	"temperatureapparent":      func(v *Values) *float64 { return v.TemperatureApparent },
	"uvhealthconcern":          func(v *Values) *float64 { return v.UVHealthConcern },
	"uvindex":                  func(v *Values) *float64 { return v.UVIndex },
	"visibility":               func(v *Values) *float64 { return v.Visibility },
	"weathercode":              func(v *Values) *float64 { return v.WeatherCode },
	"winddirection":            func(v *Values) *float64 { return v.WindDirection },
	"windgust":                 func(v *Values) *float64 { return v.WindGust },
	"windspeed":                func(v *Values) *float64 { return v.WindSpeed },
}

// SupportedParameter reports whether name (any case) is an extractable field.
func SupportedParameter(name string) bool {
	_, ok := fieldReaders[strings.ToLower(name)]
	return ok
}

// Extract returns the value of the named field. ok is false when the
// observation or its values are missing, the name is not supported, or the
// field was absent. It never panics.
func Extract(obs *Observation, parameter string) (value float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			value, ok = 0, false
		}
	}()

	if obs == nil || obs.Values == nil {
		return 0, false
	}
	read, found := fieldReaders[strings.ToLower(parameter)]
	if !found {
		return 0, false
	}
	v := read(obs.Values)
	if v == nil {
		return 0, false
	}
	return *v, true
}
