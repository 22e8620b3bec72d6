package ingest

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/groundwater/internal/model"
)

const keySep = "|"

// keyEscaper escapes the separator inside key parts so distinct parts never
// join to the same key.
var keyEscaper = strings.NewReplacer(`\`, `\\`, keySep, `\`+keySep)

// DistrictKey is the natural key of a district.
func DistrictKey(name, state string) string {
	return keyEscaper.Replace(name) + keySep + keyEscaper.Replace(state)
}

// StationKey is the natural key of a station within its district.
func StationKey(name, districtKey string) string {
	return keyEscaper.Replace(name) + keySep + districtKey
}

// Dedupe collapses items sharing a key. The last item for a key wins, but
// it keeps the position where that key first appeared.
func Dedupe[T any](items []T, key func(T) string) []T {
	pos := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := pos[k]; ok {
			out[i] = it
			continue
		}
		pos[k] = len(out)
		out = append(out, it)
	}
	return out
}

// IDMap maps a natural key to the surrogate id the store assigned it.
type IDMap map[string]int64

// DistrictIDMap indexes persisted districts by natural key.
func DistrictIDMap(rows []model.District) IDMap {
	m := make(IDMap, len(rows))
	for _, d := range rows {
		m[DistrictKey(d.Name, d.State)] = d.ID
	}
	return m
}

// StationIDMap indexes persisted stations by natural key. Station rows carry
// only a district id, so districts is inverted to recover the district key.
func StationIDMap(rows []model.Station, districts IDMap) IDMap {
	keyByID := make(map[int64]string, len(districts))
	for k, id := range districts {
		keyByID[id] = k
	}
	m := make(IDMap, len(rows))
	for _, s := range rows {
		dk, ok := keyByID[s.DistrictID]
		if !ok {
			continue
		}
		m[StationKey(s.Name, dk)] = s.ID
	}
	return m
}

// Resolve maps each item through ids and drops those whose key is missing.
// It returns the resolved values and how many were dropped; each missing key
// is logged once.
func Resolve[T, R any](items []T, ids IDMap, key func(T) string, build func(T, int64) R, log *zap.Logger) ([]R, int) {
	out := make([]R, 0, len(items))
	missing := make(map[string]int)
	for _, it := range items {
		k := key(it)
		id, ok := ids[k]
		if !ok {
			missing[k]++
			continue
		}
		out = append(out, build(it, id))
	}

	unresolved := 0
	for k, n := range missing {
		unresolved += n
		log.Warn("ingest: unresolved reference", zap.String("key", k), zap.Int("records", n))
	}
	return out, unresolved
}
