package device

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SiblingIndex computes, for every instant in dts, its 1-based rank
// among the instants sharing the same calendar date (ascending by
// time of day). Ties are broken by original input order. An instant
// that appears twice in dts occupies two ranks and maps to the later
// one, so callers pass each instant once.
func SiblingIndex(dts []time.Time) map[time.Time]int {
	type entry struct {
		dt  time.Time
		pos int
	}
	byDate := map[string][]entry{}
	for i, dt := range dts {
		key := dt.UTC().Format("2006-01-02")
		byDate[key] = append(byDate[key], entry{dt, i})
	}
	result := make(map[time.Time]int, len(dts))
	for _, entries := range byDate {
		sort.SliceStable(entries, func(i, j int) bool {
			if !entries[i].dt.Equal(entries[j].dt) {
				return entries[i].dt.Before(entries[j].dt)
			}
			return entries[i].pos < entries[j].pos
		})
		for i, e := range entries {
			result[e.dt] = i + 1
		}
	}
	return result
}

// IGCFilename derives the canonical IGC filename for a tracklog dated
// dt, belonging to a device identified by mfg/serial, at the given
// 1-based sibling index within its calendar date.
func IGCFilename(dt time.Time, mfg Manufacturer, serial string, index int) string {
	serial = strings.TrimLeft(serial, "0")
	if serial == "" {
		serial = "0"
	}
	return fmt.Sprintf("%s-%s-%s-%02d.IGC", dt.UTC().Format("2006-01-02"), mfg.Code, serial, index)
}
