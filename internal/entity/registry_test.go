package entity

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/poschodech/internal/models"
)

type fakePublisher struct {
	mu     sync.Mutex
	values map[string]float64
}

func (p *fakePublisher) SetMeterState(key, _, _ string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.values == nil {
		p.values = map[string]float64{}
	}
	p.values[key] = value
}

func (p *fakePublisher) ClearMeterState(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
}

func newTestRegistry(t *testing.T, size int) (*Registry, *fakePublisher) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	pub := &fakePublisher{}
	r, err := NewRegistry(size, pub, logger)
	require.NoError(t, err)
	return r, pub
}

func coldWater(meter, state string) models.ReadingRecord {
	return models.ReadingRecord{
		"CisloBytu":   "12",
		"Apartment":   "12A",
		"Type":        "S",
		"MeterNumber": meter,
		"StateTo":     state,
		"Unit":        "m3",
	}
}

func TestNewRegistry_InvalidSize(t *testing.T) {
	_, err := NewRegistry(0, nil, logrus.New())
	require.Error(t, err)
}

func TestRefreshSucceeded_CreatesSensors(t *testing.T) {
	r, pub := newTestRegistry(t, 10)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	r.RefreshSucceeded(&models.Snapshot{
		FetchedAt: at,
		Records: []models.ReadingRecord{
			coldWater("100", "10,5"),
			{"CisloBytu": "12", "Type": "E", "MeterNumber": "7", "StateTo": "abc", "Unit": "kWh"},
		},
	})

	sensors := r.List()
	require.Len(t, sensors, 2)

	electricity, water := sensors[0], sensors[1]
	assert.Equal(t, "poschodech_12_E_7", electricity.Key)
	assert.Equal(t, "poschodech_12_S_100", water.Key)
	assert.Equal(t, "Poschodech 12 S 100", water.Name)
	require.NotNil(t, water.Value)
	assert.InDelta(t, 10.5, *water.Value, 1e-9)
	assert.Equal(t, "m³", water.Unit)
	assert.Equal(t, "water", water.DeviceClass)
	assert.Equal(t, StateClassTotalIncreasing, water.StateClass)
	assert.True(t, water.Available)
	assert.Equal(t, "12A", water.Attributes["Apartment"])
	assert.Equal(t, at, water.FirstSeen)

	assert.Nil(t, electricity.Value, "unparseable state has no value")
	assert.Equal(t, "kWh", electricity.Unit)
	assert.Empty(t, electricity.DeviceClass)

	assert.Equal(t, map[string]float64{"poschodech_12_S_100": 10.5}, pub.values)
}

func TestRefreshSucceeded_CorrelatesAcrossCycles(t *testing.T) {
	r, pub := newTestRegistry(t, 10)
	first := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)

	r.RefreshSucceeded(&models.Snapshot{FetchedAt: first, Records: []models.ReadingRecord{coldWater("100", "1,0")}})
	r.RefreshSucceeded(&models.Snapshot{FetchedAt: second, Records: []models.ReadingRecord{coldWater("100", "2,0")}})

	s, ok := r.Get("poschodech_12_S_100")
	require.True(t, ok)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, first, s.FirstSeen)
	assert.Equal(t, second, s.LastUpdated)
	assert.InDelta(t, 2.0, *s.Value, 1e-9)
	assert.Equal(t, 2.0, pub.values["poschodech_12_S_100"])
}

func TestRefreshSucceeded_MissingMeterLosesValue(t *testing.T) {
	r, pub := newTestRegistry(t, 10)

	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("100", "1,0"), coldWater("200", "3,0")}})
	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("200", "4,0")}})

	gone, ok := r.Get("poschodech_12_S_100")
	require.True(t, ok, "sensor is kept")
	assert.Nil(t, gone.Value)
	assert.Nil(t, gone.Attributes["StateTo"])
	assert.NotContains(t, pub.values, "poschodech_12_S_100")
	assert.Contains(t, pub.values, "poschodech_12_S_200")
}

func TestRefreshSucceeded_DuplicateKeysKeepFirst(t *testing.T) {
	r, _ := newTestRegistry(t, 10)

	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("100", "1,0"), coldWater("100", "9,0")}})

	s, ok := r.Get("poschodech_12_S_100")
	require.True(t, ok)
	assert.InDelta(t, 1.0, *s.Value, 1e-9)
}

func TestRefreshFailed_MarksUnavailable(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("100", "1,0")}})

	r.RefreshFailed(errors.New("down"))

	s, ok := r.Get("poschodech_12_S_100")
	require.True(t, ok)
	assert.False(t, s.Available)
	require.NotNil(t, s.Value, "last value is kept")

	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("100", "1,5")}})
	s, _ = r.Get("poschodech_12_S_100")
	assert.True(t, s.Available)
}

func TestRegistry_EvictsLeastRecentlyRefreshed(t *testing.T) {
	r, pub := newTestRegistry(t, 2)

	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("1", "1"), coldWater("2", "2")}})
	r.RefreshSucceeded(&models.Snapshot{Records: []models.ReadingRecord{coldWater("2", "2"), coldWater("3", "3")}})

	_, ok := r.Get("poschodech_12_S_1")
	assert.False(t, ok)
	_, ok = r.Get("poschodech_12_S_3")
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())
	assert.NotContains(t, pub.values, "poschodech_12_S_1")
}

func TestGet_Unknown(t *testing.T) {
	r, _ := newTestRegistry(t, 10)
	_, ok := r.Get("nope")
	assert.False(t, ok)
	assert.Empty(t, r.List())
}
