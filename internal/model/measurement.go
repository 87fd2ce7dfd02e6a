package model

// MeasurementPoint is a single calibrated sample from one register, with a
// wall-clock timestamp. It is the self-describing queue element of §4.1 and
// the dedup key for publish cycles is RegisterID (§4.6).
type MeasurementPoint struct {
	Timestamp   int64   `json:"timestamp"`
	DeviceID    string  `json:"device_id"`
	DeviceName  string  `json:"device_name"`
	RegisterID  string  `json:"register_id"`
	RegisterName string `json:"register_name"`
	Value       float64 `json:"value"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
}

// DedupKey returns the key used to collapse duplicates within one publish
// cycle (spec.md §4.6, §8 property 3).
func (m MeasurementPoint) DedupKey() string { return m.RegisterID }

// DeviceIdentifier satisfies queue.Item so per-device flush can target a
// device's Measurement Points without draining the rest of the queue.
func (m MeasurementPoint) DeviceIdentifier() string { return m.DeviceID }
