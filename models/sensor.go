package models

import "strings"

type SensorKind string

const (
	SensorAcceleration    SensorKind = "acc"
	SensorBloodVolume     SensorKind = "bvp"
	SensorElectrodermal   SensorKind = "eda"
	SensorHeartRate       SensorKind = "hr"
	SensorInterBeat       SensorKind = "ibi"
	SensorSkinTemperature SensorKind = "temp"
)

var KnownSensors = []SensorKind{
	SensorAcceleration,
	SensorBloodVolume,
	SensorElectrodermal,
	SensorHeartRate,
	SensorInterBeat,
	SensorSkinTemperature,
}

var sensorAliases = map[string]SensorKind{
	"acc":                    SensorAcceleration,
	"acceleration":           SensorAcceleration,
	"accelerometer":          SensorAcceleration,
	"wrist_acc":              SensorAcceleration,
	"bvp":                    SensorBloodVolume,
	"blood_volume_pulse":     SensorBloodVolume,
	"wrist_bvp":              SensorBloodVolume,
	"eda":                    SensorElectrodermal,
	"electrodermal_activity": SensorElectrodermal,
	"wrist_eda":              SensorElectrodermal,
	"hr":                     SensorHeartRate,
	"heart_rate":             SensorHeartRate,
	"wrist_hr":               SensorHeartRate,
	"ibi":                    SensorInterBeat,
	"inter_beat_interval":    SensorInterBeat,
	"wrist_ibi":              SensorInterBeat,
	"temp":                   SensorSkinTemperature,
	"temperature":            SensorSkinTemperature,
	"skin_temperature":       SensorSkinTemperature,
	"wrist_skin_temperature": SensorSkinTemperature,
}

var sensorNames = map[SensorKind]string{
	SensorAcceleration:    "Accelerometer",
	SensorBloodVolume:     "Blood Volume Pulse",
	SensorElectrodermal:   "Electrodermal Activity",
	SensorHeartRate:       "Heart Rate",
	SensorInterBeat:       "Inter-Beat Interval",
	SensorSkinTemperature: "Skin Temperature",
}

// ParseSensorKind normalizes a sensor identifier. Unrecognized identifiers are
// returned lower-cased as-is; the detector applies its default policy to them.
func ParseSensorKind(s string) SensorKind {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "-", "_")
	if kind, ok := sensorAliases[key]; ok {
		return kind
	}
	return SensorKind(key)
}

func (k SensorKind) Known() bool {
	_, ok := sensorNames[k]
	return ok
}

func (k SensorKind) DisplayName() string {
	if name, ok := sensorNames[k]; ok {
		return name
	}
	return strings.ToUpper(string(k))
}

func (k SensorKind) String() string {
	return string(k)
}

type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Physiologically normal bounds per sensor.
var normalRanges = map[SensorKind]Range{
	SensorHeartRate:       {Min: 40, Max: 180},
	SensorSkinTemperature: {Min: 35, Max: 39},
	SensorElectrodermal:   {Min: 0.01, Max: 20},
	SensorBloodVolume:     {Min: -100, Max: 100},
	SensorInterBeat:       {Min: 300, Max: 2000},
	SensorAcceleration:    {Min: 0, Max: 5},
}

// Percentage change between consecutive samples considered rapid.
var rapidChangePercent = map[SensorKind]float64{
	SensorHeartRate:       30,
	SensorSkinTemperature: 5,
	SensorElectrodermal:   50,
	SensorBloodVolume:     40,
	SensorInterBeat:       25,
	SensorAcceleration:    100,
}

const DefaultRapidChangePercent = 50.0

func NormalRange(k SensorKind) (Range, bool) {
	r, ok := normalRanges[k]
	return r, ok
}

func RapidChangeThreshold(k SensorKind) float64 {
	if t, ok := rapidChangePercent[k]; ok {
		return t
	}
	return DefaultRapidChangePercent
}
