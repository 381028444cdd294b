package models

import "time"

// ReadingRecord is one element of the upstream "Consumption" array.
//
// Records are kept in their decoded JSON shape so that fields the upstream
// adds later are mirrored to the host without code changes.
type ReadingRecord map[string]any

// Record field names as sent by the upstream API
const (
	FieldApartmentNumber = "CisloBytu"
	FieldApartment       = "Apartment"
	FieldType            = "Type"
	FieldMeterNumber     = "MeterNumber"
	FieldDateFrom        = "DateFrom"
	FieldDateTo          = "DateTo"
	FieldStateFrom       = "StateFrom"
	FieldStateTo         = "StateTo"
	FieldUnit            = "Unit"
	FieldConsumption     = "Consumption"
)

// AttributeFields lists the record fields mirrored as sensor attributes.
var AttributeFields = []string{
	FieldApartmentNumber,
	FieldApartment,
	FieldType,
	FieldMeterNumber,
	FieldDateFrom,
	FieldDateTo,
	FieldStateFrom,
	FieldStateTo,
	FieldUnit,
	FieldConsumption,
}

// Snapshot is the full set of records from one successful refresh
type Snapshot struct {
	FlatName  string          `json:"flat_name"`
	Records   []ReadingRecord `json:"records"`
	FetchedAt time.Time       `json:"fetched_at"`
}

// Len returns the number of records in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}
