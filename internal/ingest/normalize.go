package ingest

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
)

// Source tags the schema a raw record was written in.
type Source string

const (
	SourceHistorical Source = "historical"
	SourceSynthetic  Source = "synthetic"
)

// RawRecord is one untyped source record and the schema it follows.
type RawRecord struct {
	Source Source
	JSON   gjson.Result
}

// Input is the candidate set for one run. Historical rows appear in both
// lists since each row describes a station and carries a reading.
type Input struct {
	Stations []RawRecord
	Readings []RawRecord
}

// Merge concatenates inputs into one combined candidate set.
func Merge(inputs ...Input) Input {
	var out Input
	for _, in := range inputs {
		out.Stations = append(out.Stations, in.Stations...)
		out.Readings = append(out.Readings, in.Readings...)
	}
	return out
}

// ParseHistorical parses a JSON array of historical dataset rows.
func ParseHistorical(data []byte) (Input, error) {
	if !gjson.ValidBytes(data) {
		return Input{}, eris.New("ingest: historical dataset is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return Input{}, eris.New("ingest: historical dataset must be a JSON array")
	}

	var in Input
	root.ForEach(func(_, row gjson.Result) bool {
		rec := RawRecord{Source: SourceHistorical, JSON: row}
		in.Stations = append(in.Stations, rec)
		in.Readings = append(in.Readings, rec)
		return true
	})
	return in, nil
}

// Canonical defaults applied when a source omits a field.
const (
	DefaultName                = "Unknown"
	DefaultAquiferType         = "Unknown"
	DefaultSpecificYield       = 0.15
	DefaultStationStatus       = "Active"
	DefaultStationType         = "Observation"
	DefaultAgencyName          = "CGWB"
	DefaultDataAcquisitionMode = "Manual"
	DefaultWellType            = "Open"
	DefaultWellDepth           = 20.0
	DefaultTemperature         = 25.0
)

type field int

const (
	fStationName field = iota
	fDistrict
	fState
	fLatitude
	fLongitude
	fAquiferType
	fSpecificYield
	fWellDepth
	fStationStatus
	fStationType
	fAgencyName
	fAcquisitionMode
	fWellType
	fWaterLevel
	fRainfall
	fTemperature
	fTimestamp
	fDataTime
)

// fieldPaths lists, per source, the gjson paths a logical field may arrive
// under, in priority order.
var fieldPaths = map[Source]map[field][]string{
	SourceHistorical: {
		fStationName:     {"stationName", "description"},
		fDistrict:        {"district", "districtName"},
		fState:           {"state"},
		fLatitude:        {"latitude"},
		fLongitude:       {"longitude"},
		fAquiferType:     {"wellAquiferType"},
		fSpecificYield:   {"specificYield"},
		fWellDepth:       {"wellDepth"},
		fStationStatus:   {"stationStatus"},
		fStationType:     {"stationType"},
		fAgencyName:      {"agencyName"},
		fAcquisitionMode: {"dataAcquisitionMode"},
		fWellType:        {"wellType"},
		fWaterLevel:      {"dataValue"},
		fRainfall:        {"rainfall"},
		fTemperature:     {"temperature"},
		fTimestamp:       {"timestamp"},
		fDataTime:        {"dataTime"},
	},
	SourceSynthetic: {
		fStationName:     {"station_name"},
		fDistrict:        {"district"},
		fState:           {"state"},
		fLatitude:        {"latitude"},
		fLongitude:       {"longitude"},
		fAquiferType:     {"aquifer_type"},
		fSpecificYield:   {"specific_yield"},
		fWellDepth:       {"well_depth"},
		fStationStatus:   {"station_status"},
		fStationType:     {"station_type"},
		fAgencyName:      {"agency_name"},
		fAcquisitionMode: {"data_acquisition_mode"},
		fWellType:        {"well_type"},
		fWaterLevel:      {"water_level"},
		fRainfall:        {"rainfall"},
		fTemperature:     {"temperature"},
		fTimestamp:       {"timestamp"},
	},
}

// lookup returns the first present, non-null value for f.
func (r RawRecord) lookup(f field) (gjson.Result, bool) {
	for _, path := range fieldPaths[r.Source][f] {
		v := r.JSON.Get(path)
		if v.Exists() && v.Type != gjson.Null {
			return v, true
		}
	}
	return gjson.Result{}, false
}

func (r RawRecord) str(f field) (string, bool) {
	v, ok := r.lookup(f)
	if !ok {
		return "", false
	}
	s := strings.TrimSpace(v.String())
	return s, s != ""
}

func (r RawRecord) strOr(f field, def string) string {
	if s, ok := r.str(f); ok {
		return s
	}
	return def
}

func (r RawRecord) num(f field) (float64, bool) {
	v, ok := r.lookup(f)
	if !ok {
		return 0, false
	}
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		return n, err == nil
	}
	return 0, false
}

func (r RawRecord) numOr(f field, def float64) float64 {
	if n, ok := r.num(f); ok {
		return n
	}
	return def
}

// CanonicalDistrict is a district candidate keyed by DistrictKey.
type CanonicalDistrict struct {
	Name  string
	State string
}

// Key returns the district natural key.
func (d CanonicalDistrict) Key() string {
	return DistrictKey(d.Name, d.State)
}

// CanonicalStation is a station candidate. Its district is referenced by
// natural key until the districts stage has produced surrogate ids.
type CanonicalStation struct {
	Name                string
	District            CanonicalDistrict
	Latitude            float64
	Longitude           float64
	AquiferType         string
	SpecificYield       float64
	WellDepth           float64
	StationStatus       string
	StationType         string
	AgencyName          string
	DataAcquisitionMode string
	WellType            string
}

// Key returns the station natural key.
func (s CanonicalStation) Key() string {
	return StationKey(s.Name, s.District.Key())
}

// CanonicalReading is one observation referencing its station by natural key.
type CanonicalReading struct {
	StationName string
	District    CanonicalDistrict
	Timestamp   time.Time
	WaterLevel  float64
	Rainfall    float64
	HasRainfall bool
	Temperature float64
}

// StationKey returns the natural key of the reading's station.
func (r CanonicalReading) StationKey() string {
	return StationKey(r.StationName, r.District.Key())
}

// NormalizeDistrict extracts the district of any raw record.
func NormalizeDistrict(r RawRecord) CanonicalDistrict {
	return CanonicalDistrict{
		Name:  r.strOr(fDistrict, DefaultName),
		State: r.strOr(fState, DefaultName),
	}
}

// NormalizeStation maps r to a station candidate. It reports false when
// the record names no station.
func NormalizeStation(r RawRecord) (CanonicalStation, bool) {
	name, ok := r.str(fStationName)
	if !ok {
		return CanonicalStation{}, false
	}

	depth := r.numOr(fWellDepth, DefaultWellDepth)
	if depth <= 0 {
		depth = DefaultWellDepth
	}

	return CanonicalStation{
		Name:                name,
		District:            NormalizeDistrict(r),
		Latitude:            r.numOr(fLatitude, 0),
		Longitude:           r.numOr(fLongitude, 0),
		AquiferType:         r.strOr(fAquiferType, DefaultAquiferType),
		SpecificYield:       r.numOr(fSpecificYield, DefaultSpecificYield),
		WellDepth:           depth,
		StationStatus:       r.strOr(fStationStatus, DefaultStationStatus),
		StationType:         r.strOr(fStationType, DefaultStationType),
		AgencyName:          r.strOr(fAgencyName, DefaultAgencyName),
		DataAcquisitionMode: r.strOr(fAcquisitionMode, DefaultDataAcquisitionMode),
		WellType:            r.strOr(fWellType, DefaultWellType),
	}, true
}

// NormalizeReading maps r to a reading candidate. It reports false when the
// record names no station or carries no usable timestamp.
func NormalizeReading(r RawRecord) (CanonicalReading, bool) {
	name, ok := r.str(fStationName)
	if !ok {
		return CanonicalReading{}, false
	}
	ts, ok := r.timestamp()
	if !ok {
		return CanonicalReading{}, false
	}

	rainfall, hasRainfall := r.num(fRainfall)
	if r.Source == SourceHistorical {
		// Historical rows only carry a rainfall observation when it is positive.
		hasRainfall = hasRainfall && rainfall > 0
	} else {
		hasRainfall = hasRainfall && rainfall >= 0
	}

	return CanonicalReading{
		StationName: name,
		District:    NormalizeDistrict(r),
		Timestamp:   ts,
		WaterLevel:  r.numOr(fWaterLevel, 0),
		Rainfall:    max(rainfall, 0),
		HasRainfall: hasRainfall,
		Temperature: r.numOr(fTemperature, DefaultTemperature),
	}, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timestamp resolves the reading instant from either a decomposed dataTime
// structure or an ISO string. Zone-less values are taken as UTC.
func (r RawRecord) timestamp() (time.Time, bool) {
	if dt, ok := r.lookup(fDataTime); ok && dt.IsObject() && dt.Get("year").Exists() {
		part := func(name string, def int) int {
			v := dt.Get(name)
			if !v.Exists() || v.Type == gjson.Null {
				return def
			}
			return int(v.Int())
		}
		// monthValue is 1-based; index it from zero before building the instant.
		monthIndex := part("monthValue", 1) - 1
		t := time.Date(
			part("year", 0),
			time.January+time.Month(monthIndex),
			part("dayOfMonth", 1),
			part("hour", 0),
			part("minute", 0),
			part("second", 0),
			0, time.UTC,
		)
		return t, storableYear(t)
	}

	s, ok := r.str(fTimestamp)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return t, storableYear(t)
		}
	}
	return time.Time{}, false
}

// storableYear reports whether t has a four-digit year. Stored timestamps
// only round-trip years 0 through 9999.
func storableYear(t time.Time) bool {
	return t.Year() >= 0 && t.Year() <= 9999
}
