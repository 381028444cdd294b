package api

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/poschodech/internal/models"
)

func decode(t *testing.T, raw string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestExtractRecords(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []models.ReadingRecord
	}{
		{
			name:    "empty object",
			payload: `{}`,
			want:    []models.ReadingRecord{},
		},
		{
			name:    "consumption is not a list",
			payload: `{"Consumption": "not-a-list"}`,
			want:    []models.ReadingRecord{},
		},
		{
			name:    "non-object elements are dropped",
			payload: `{"Consumption": [1, "x", {}]}`,
			want:    []models.ReadingRecord{{}},
		},
		{
			name:    "payload is a list",
			payload: `[{"Consumption": []}]`,
			want:    []models.ReadingRecord{},
		},
		{
			name:    "payload is null",
			payload: `null`,
			want:    []models.ReadingRecord{},
		},
		{
			name:    "records keep their order",
			payload: `{"Consumption": [{"MeterNumber": "1"}, null, {"MeterNumber": "2"}]}`,
			want: []models.ReadingRecord{
				{"MeterNumber": "1"},
				{"MeterNumber": "2"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractRecords(decode(t, tt.payload))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractRecords_NonJSONInput(t *testing.T) {
	assert.Empty(t, ExtractRecords(nil))
	assert.Empty(t, ExtractRecords(42))
	assert.Empty(t, ExtractRecords(map[string]any{"Consumption": []string{"a"}}))
}

func TestMakeKey(t *testing.T) {
	tests := []struct {
		name   string
		record models.ReadingRecord
		want   string
	}{
		{
			name:   "all fields",
			record: models.ReadingRecord{"CisloBytu": "12", "Type": "S", "MeterNumber": "A-77"},
			want:   "poschodech_12_S_A-77",
		},
		{
			name:   "fields are trimmed",
			record: models.ReadingRecord{"CisloBytu": " 12 ", "Type": "\tT", "MeterNumber": "99\n"},
			want:   "poschodech_12_T_99",
		},
		{
			name:   "missing fields",
			record: models.ReadingRecord{},
			want:   "poschodech___",
		},
		{
			name:   "null fields",
			record: models.ReadingRecord{"CisloBytu": nil, "Type": nil, "MeterNumber": nil},
			want:   "poschodech___",
		},
		{
			name:   "numeric fields",
			record: models.ReadingRecord{"CisloBytu": float64(12), "Type": "S", "MeterNumber": 123456.0},
			want:   "poschodech_12_S_123456",
		},
		{
			name:   "fractional number",
			record: models.ReadingRecord{"CisloBytu": 1.5, "Type": "S", "MeterNumber": "1"},
			want:   "poschodech_1.5_S_1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MakeKey(tt.record)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, got)
		})
	}
}

func TestMakeKey_Deterministic(t *testing.T) {
	a := models.ReadingRecord{"CisloBytu": "5", "Type": "S", "MeterNumber": "100", "StateTo": "1,0"}
	b := models.ReadingRecord{"CisloBytu": "5 ", "Type": " S", "MeterNumber": "100", "StateTo": "2,0"}
	c := models.ReadingRecord{"CisloBytu": "5", "Type": "T", "MeterNumber": "100"}

	assert.Equal(t, MakeKey(a), MakeKey(a))
	assert.Equal(t, MakeKey(a), MakeKey(b), "same triple after trimming")
	assert.NotEqual(t, MakeKey(a), MakeKey(c), "different meter type")
}

func TestParseStateTo(t *testing.T) {
	tests := []struct {
		name   string
		record models.ReadingRecord
		want   float64
		wantOK bool
	}{
		{name: "decimal comma", record: models.ReadingRecord{"StateTo": "12,5"}, want: 12.5, wantOK: true},
		{name: "decimal point", record: models.ReadingRecord{"StateTo": "12.5"}, want: 12.5, wantOK: true},
		{name: "surrounding spaces", record: models.ReadingRecord{"StateTo": " 3,25 "}, want: 3.25, wantOK: true},
		{name: "number", record: models.ReadingRecord{"StateTo": 7.0}, want: 7, wantOK: true},
		{name: "json number", record: models.ReadingRecord{"StateTo": json.Number("8.5")}, want: 8.5, wantOK: true},
		{name: "null", record: models.ReadingRecord{"StateTo": nil}, wantOK: false},
		{name: "missing", record: models.ReadingRecord{}, wantOK: false},
		{name: "not a number", record: models.ReadingRecord{"StateTo": "abc"}, wantOK: false},
		{name: "empty string", record: models.ReadingRecord{"StateTo": ""}, wantOK: false},
		{name: "object", record: models.ReadingRecord{"StateTo": map[string]any{}}, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStateTo(tt.record)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestUnit(t *testing.T) {
	assert.Equal(t, "m³", Unit(models.ReadingRecord{"Unit": "M3"}))
	assert.Equal(t, "m³", Unit(models.ReadingRecord{"Unit": "m3"}))
	assert.Equal(t, "kWh", Unit(models.ReadingRecord{"Unit": "kWh"}))
	assert.Equal(t, "", Unit(models.ReadingRecord{}))
	assert.Equal(t, "", Unit(models.ReadingRecord{"Unit": nil}))
	assert.Equal(t, "3", Unit(models.ReadingRecord{"Unit": 3.0}))
}

func TestDeviceClass(t *testing.T) {
	assert.Equal(t, "water", DeviceClass(models.ReadingRecord{"Unit": "m3", "Type": "S"}))
	assert.Equal(t, "water", DeviceClass(models.ReadingRecord{"Unit": "M3", "Type": "t"}))
	assert.Equal(t, "", DeviceClass(models.ReadingRecord{"Unit": "m3", "Type": "E"}))
	assert.Equal(t, "", DeviceClass(models.ReadingRecord{"Unit": "kWh", "Type": "S"}))
	assert.Equal(t, "", DeviceClass(models.ReadingRecord{}))
}

func TestAttributes(t *testing.T) {
	record := models.ReadingRecord{
		"CisloBytu": "12",
		"Type":      "S",
		"StateTo":   "10,5",
		"Extra":     "ignored",
	}

	attrs := Attributes(record)

	assert.Len(t, attrs, len(models.AttributeFields))
	assert.Equal(t, "12", attrs["CisloBytu"])
	assert.Equal(t, "10,5", attrs["StateTo"])
	assert.Contains(t, attrs, "Consumption")
	assert.Nil(t, attrs["Consumption"])
	assert.NotContains(t, attrs, "Extra")
}

func TestSensorName(t *testing.T) {
	assert.Equal(t, "Poschodech 12 S 100", SensorName("poschodech_12_S_100"))
	assert.Equal(t, "Poschodech   ", SensorName("poschodech___"))
}
