package ingest

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// RandSource yields uniform values in [0, 1).
type RandSource interface {
	Float64() float64
}

// NewRandSource returns a PCG source. A zero seed is replaced by the
// current time.
func NewRandSource(seed uint64) RandSource {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed>>1|1))
}

// StationFixture describes one synthetic station. Omitted fields fall back
// to the normalizer defaults.
type StationFixture struct {
	Name                string  `yaml:"station_name" json:"station_name"`
	District            string  `yaml:"district" json:"district"`
	State               string  `yaml:"state" json:"state"`
	Latitude            float64 `yaml:"latitude" json:"latitude"`
	Longitude           float64 `yaml:"longitude" json:"longitude"`
	WellDepth           float64 `yaml:"well_depth" json:"well_depth,omitempty"`
	SpecificYield       float64 `yaml:"specific_yield" json:"specific_yield,omitempty"`
	AquiferType         string  `yaml:"aquifer_type" json:"aquifer_type,omitempty"`
	StationStatus       string  `yaml:"station_status" json:"station_status,omitempty"`
	StationType         string  `yaml:"station_type" json:"station_type,omitempty"`
	AgencyName          string  `yaml:"agency_name" json:"agency_name,omitempty"`
	DataAcquisitionMode string  `yaml:"data_acquisition_mode" json:"data_acquisition_mode,omitempty"`
	WellType            string  `yaml:"well_type" json:"well_type,omitempty"`
}

func (f StationFixture) depth() float64 {
	if f.WellDepth > 0 {
		return f.WellDepth
	}
	return DefaultWellDepth
}

// DefaultFixtures returns the built-in synthetic stations.
func DefaultFixtures() []StationFixture {
	return []StationFixture{
		{
			Name: "Rajghat_1", District: "Baleshwar", State: "Odisha",
			Latitude: 21.5, Longitude: 86.8, WellDepth: 40,
			AquiferType: "Alluvial", StationStatus: "Active", StationType: "Observation",
			AgencyName: "CGWB", DataAcquisitionMode: "Manual", WellType: "Open",
		},
		{
			Name: "Karnal_1", District: "Karnal", State: "Haryana",
			Latitude: 29.7, Longitude: 76.9, WellDepth: 35,
			AquiferType: "Alluvial", StationStatus: "Active", StationType: "Observation",
			AgencyName: "CGWB", DataAcquisitionMode: "Automatic", WellType: "Borewell",
		},
		{
			Name: "Raipur_1", District: "Raipur", State: "Chhattisgarh",
			Latitude: 21.25, Longitude: 81.63, WellDepth: 50,
			AquiferType: "Sedimentary", StationStatus: "Active", StationType: "Observation",
			AgencyName: "CGWB", DataAcquisitionMode: "Manual", WellType: "Open",
		},
	}
}

// LoadFixtures reads a YAML list of station fixtures.
func LoadFixtures(path string) ([]StationFixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read fixtures %s", path)
	}
	var fixtures []StationFixture
	if err := yaml.Unmarshal(data, &fixtures); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse fixtures %s", path)
	}
	for i, f := range fixtures {
		if f.Name == "" || f.District == "" || f.State == "" {
			return nil, eris.Errorf("ingest: fixture %d needs station_name, district and state", i)
		}
	}
	return fixtures, nil
}

// SyntheticLevel maps a uniform draw to a water level bucket for a well of
// the given depth: empty, half, quarter or nearly full.
func SyntheticLevel(u, depth float64) float64 {
	switch {
	case u < 0.2:
		return -depth
	case u < 0.5:
		return -depth * 0.5
	case u < 0.8:
		return -depth * 0.25
	default:
		return -depth * 0.1
	}
}

// Generator produces daily synthetic readings for a set of fixture stations.
type Generator struct {
	clock clockwork.Clock
	rand  RandSource
	days  int
}

// NewGenerator creates a Generator emitting days readings per station.
func NewGenerator(clock clockwork.Clock, rnd RandSource, days int) *Generator {
	return &Generator{clock: clock, rand: rnd, days: days}
}

// Generate returns fixture station records plus one reading per station per
// day, ending at the current UTC day. The series is computed once and used
// for both water levels and rainfall.
func (g *Generator) Generate(fixtures []StationFixture) (Input, error) {
	var in Input
	end := g.clock.Now().UTC().Truncate(24 * time.Hour)

	for _, f := range fixtures {
		raw, err := json.Marshal(f)
		if err != nil {
			return Input{}, eris.Wrapf(err, "ingest: encode fixture %s", f.Name)
		}
		in.Stations = append(in.Stations, RawRecord{Source: SourceSynthetic, JSON: gjson.ParseBytes(raw)})

		for i := range g.days {
			ts := end.Add(-time.Duration(i) * 24 * time.Hour)
			rec, err := g.reading(f, ts)
			if err != nil {
				return Input{}, err
			}
			in.Readings = append(in.Readings, rec)
		}
	}
	return in, nil
}

func (g *Generator) reading(f StationFixture, ts time.Time) (RawRecord, error) {
	values := []struct {
		path  string
		value any
	}{
		{"station_name", f.Name},
		{"district", f.District},
		{"state", f.State},
		{"timestamp", ts.Format(time.RFC3339Nano)},
		{"water_level", SyntheticLevel(g.rand.Float64(), f.depth())},
		{"rainfall", g.rand.Float64() * 15},
		{"temperature", 20 + g.rand.Float64()*10},
	}

	raw := []byte(`{}`)
	for _, v := range values {
		var err error
		raw, err = sjson.SetBytes(raw, v.path, v.value)
		if err != nil {
			return RawRecord{}, eris.Wrapf(err, "ingest: build reading %s", f.Name)
		}
	}
	return RawRecord{Source: SourceSynthetic, JSON: gjson.ParseBytes(raw)}, nil
}
