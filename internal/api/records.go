package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tejusbharadwaj/poschodech/internal/models"
)

const (
	// KeyPrefix starts every Record Key
	KeyPrefix    = "poschodech"
	keySeparator = "_"

	cubicMeters = "m³"
)

// ExtractRecords pulls the reading records out of a decoded daily readings
// payload. A payload of any other shape yields an empty slice.
func ExtractRecords(payload any) []models.ReadingRecord {
	data, ok := payload.(map[string]any)
	if !ok {
		return []models.ReadingRecord{}
	}

	items, ok := data[models.FieldConsumption].([]any)
	if !ok {
		return []models.ReadingRecord{}
	}

	records := make([]models.ReadingRecord, 0, len(items))
	for _, item := range items {
		switch rec := item.(type) {
		case map[string]any:
			records = append(records, models.ReadingRecord(rec))
		case models.ReadingRecord:
			records = append(records, rec)
		}
	}
	return records
}

// MakeKey derives the stable identifier of the meter a record belongs to.
func MakeKey(record models.ReadingRecord) string {
	parts := []string{
		KeyPrefix,
		fieldText(record, models.FieldApartmentNumber),
		fieldText(record, models.FieldType),
		fieldText(record, models.FieldMeterNumber),
	}
	return strings.Join(parts, keySeparator)
}

// ParseStateTo returns the meter state at the end of the reading window.
// The second result is false when the value is missing or not a number.
func ParseStateTo(record models.ReadingRecord) (float64, bool) {
	switch v := record[models.FieldStateTo].(type) {
	case nil:
		return 0, false
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// Unit returns the printable unit of measurement of a record.
func Unit(record models.ReadingRecord) string {
	raw, ok := record[models.FieldUnit]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok && strings.EqualFold(s, "m3") {
		return cubicMeters
	}
	return scalarText(raw)
}

// DeviceClass reports "water" for cold (S) and hot (T) water meters read in
// cubic meters, and an empty string for everything else.
func DeviceClass(record models.ReadingRecord) string {
	unit := strings.ToLower(fieldText(record, models.FieldUnit))
	typ := strings.ToUpper(fieldText(record, models.FieldType))
	if strings.Contains(unit, "m3") && (typ == "S" || typ == "T") {
		return "water"
	}
	return ""
}

// Attributes copies the record fields mirrored to the host. Missing fields
// are present with a nil value.
func Attributes(record models.ReadingRecord) map[string]any {
	attrs := make(map[string]any, len(models.AttributeFields))
	for _, field := range models.AttributeFields {
		attrs[field] = record[field]
	}
	return attrs
}

// SensorName turns a Record Key into a human readable name.
func SensorName(key string) string {
	name := strings.Replace(key, KeyPrefix+keySeparator, "Poschodech ", 1)
	return strings.ReplaceAll(name, keySeparator, " ")
}

func fieldText(record models.ReadingRecord, field string) string {
	return strings.TrimSpace(scalarText(record[field]))
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
