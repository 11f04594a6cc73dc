package weather

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(v float64) *float64 { return &v }

func TestExtract_CaseInsensitive(t *testing.T) {
	obs := &Observation{Values: &Values{Temperature: ptr(25), Humidity: ptr(60), WindSpeed: ptr(4.5)}}

	for _, name := range []string{"temperature", "TEMPERATURE", "Temperature"} {
		v, ok := Extract(obs, name)
		assert.True(t, ok, name)
		assert.Equal(t, 25.0, v, name)
	}

	v, ok := Extract(obs, "WINDSPEED")
	assert.True(t, ok)
	assert.Equal(t, 4.5, v)

	v, ok = Extract(obs, "windSpeed")
	assert.True(t, ok)
	assert.Equal(t, 4.5, v)
}

func TestExtract_Absent(t *testing.T) {
	obs := &Observation{Values: &Values{Temperature: ptr(25)}}

	_, ok := Extract(nil, "temperature")
	assert.False(t, ok, "nil observation")

	_, ok = Extract(&Observation{}, "temperature")
	assert.False(t, ok, "nil values")

	_, ok = Extract(obs, "pollen")
	assert.False(t, ok, "unknown parameter")

	_, ok = Extract(obs, "humidity")
	assert.False(t, ok, "field missing from response")
}

func TestExtract_ZeroIsPresent(t *testing.T) {
	obs := &Observation{Values: &Values{UVIndex: ptr(0)}}
	v, ok := Extract(obs, "uvIndex")
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestSupportedParameter(t *testing.T) {
	assert.True(t, SupportedParameter("Humidity"))
	assert.True(t, SupportedParameter("dewPoint"))
	assert.False(t, SupportedParameter("pollen"))
}
