// Package entity keeps one addressable sensor per meter.
//
// Sensors are keyed by Record Key, so the same physical meter maps to the
// same sensor across refresh cycles. A meter missing from the latest
// snapshot keeps its sensor but reports no value.
//
// This in-memory registry is bounded by golang-lru; the least recently
// refreshed meters are evicted first.
package entity

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/poschodech/internal/api"
	"github.com/tejusbharadwaj/poschodech/internal/models"
)

const StateClassTotalIncreasing = "total_increasing"

// Sensor is the host facing view of one meter.
type Sensor struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Value       *float64       `json:"value"`
	Unit        string         `json:"unit"`
	DeviceClass string         `json:"device_class,omitempty"`
	StateClass  string         `json:"state_class"`
	Available   bool           `json:"available"`
	Attributes  map[string]any `json:"attributes"`
	FirstSeen   time.Time      `json:"first_seen"`
	LastUpdated time.Time      `json:"last_updated"`
}

// StatePublisher receives meter values, e.g. Prometheus gauges.
type StatePublisher interface {
	SetMeterState(key, unit, deviceClass string, value float64)
	ClearMeterState(key string)
}

type Registry struct {
	mu        sync.Mutex
	sensors   *lru.Cache
	publisher StatePublisher
	logger    *logrus.Logger
}

// NewRegistry creates a registry holding at most size sensors.
func NewRegistry(size int, publisher StatePublisher, logger *logrus.Logger) (*Registry, error) {
	r := &Registry{
		publisher: publisher,
		logger:    logger,
	}
	cache, err := lru.NewWithEvict(size, r.onEvict)
	if err != nil {
		return nil, err
	}
	r.sensors = cache
	return r, nil
}

func (r *Registry) onEvict(key, _ interface{}) {
	r.logger.WithField("key", key).Warn("Sensor evicted from registry")
	if r.publisher != nil {
		r.publisher.ClearMeterState(key.(string))
	}
}

// RefreshSucceeded updates every sensor from snapshot.
func (r *Registry) RefreshSucceeded(snapshot *models.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, snapshot.Len())
	for _, record := range snapshot.Records {
		key := api.MakeKey(record)
		if seen[key] {
			r.logger.WithField("key", key).Warn("Duplicate meter in snapshot, keeping the first record")
			continue
		}
		seen[key] = true
		r.upsert(key, record, snapshot.FetchedAt)
	}

	for _, k := range r.sensors.Keys() {
		key := k.(string)
		if seen[key] {
			continue
		}
		if v, ok := r.sensors.Peek(key); ok {
			s := v.(*Sensor)
			s.Value = nil
			s.Available = true
			s.Attributes = api.Attributes(models.ReadingRecord{})
			s.LastUpdated = snapshot.FetchedAt
			if r.publisher != nil {
				r.publisher.ClearMeterState(key)
			}
		}
	}
}

// RefreshFailed marks every sensor unavailable until the next success.
func (r *Registry) RefreshFailed(error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range r.sensors.Keys() {
		if v, ok := r.sensors.Peek(k); ok {
			v.(*Sensor).Available = false
		}
	}
}

func (r *Registry) upsert(key string, record models.ReadingRecord, at time.Time) {
	var s *Sensor
	if v, ok := r.sensors.Get(key); ok {
		s = v.(*Sensor)
	} else {
		s = &Sensor{
			Key:        key,
			Name:       api.SensorName(key),
			StateClass: StateClassTotalIncreasing,
			FirstSeen:  at,
		}
		r.sensors.Add(key, s)
		r.logger.WithField("key", key).Info("New meter discovered")
	}

	s.Unit = api.Unit(record)
	s.DeviceClass = api.DeviceClass(record)
	s.Attributes = api.Attributes(record)
	s.Available = true
	s.LastUpdated = at
	s.Value = nil

	if r.publisher != nil {
		r.publisher.ClearMeterState(key)
	}
	if value, ok := api.ParseStateTo(record); ok {
		s.Value = &value
		if r.publisher != nil {
			r.publisher.SetMeterState(key, s.Unit, s.DeviceClass, value)
		}
	}
}

// Get returns the sensor for key.
func (r *Registry) Get(key string) (Sensor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.sensors.Peek(key)
	if !ok {
		return Sensor{}, false
	}
	return *v.(*Sensor), true
}

// List returns all sensors ordered by key.
func (r *Registry) List() []Sensor {
	r.mu.Lock()
	defer r.mu.Unlock()

	sensors := make([]Sensor, 0, r.sensors.Len())
	for _, k := range r.sensors.Keys() {
		if v, ok := r.sensors.Peek(k); ok {
			sensors = append(sensors, *v.(*Sensor))
		}
	}
	sort.Slice(sensors, func(i, j int) bool { return sensors[i].Key < sensors[j].Key })
	return sensors
}

// Len returns the number of known sensors.
func (r *Registry) Len() int {
	return r.sensors.Len()
}
