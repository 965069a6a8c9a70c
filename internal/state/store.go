// Package state persists monitor state between polling cycles and
// migrates the two legacy on-disk shapes into the current one.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// legacyEntry is the per-post stats object of the old nested shape.
type legacyEntry struct {
	Replies     int       `json:"replies"`
	Retweets    int       `json:"retweets"`
	Likes       int       `json:"likes"`
	LastChecked time.Time `json:"last_checked"`
}

// versionProbe sniffs the discriminator of a candidate document.
type versionProbe struct {
	Version *int `json:"version"`
}

// Migrate converts raw persisted bytes into the current MonitorState
// shape. It recognizes, in order:
//
//   - the current version-tagged shape (returned unchanged, so the
//     migration is idempotent),
//   - a flat JSON array of previously-seen identifiers, which get
//     synthetic zero-valued entries checked at now so they are not
//     immediately re-alerted,
//   - an object nested query-key -> identifier -> stats, flattened by
//     union with last-write-wins across sorted query keys.
//
// Empty input is a cold start, not an error.
func Migrate(raw []byte, now time.Time) (watch.MonitorState, error) {
	if len(raw) == 0 {
		return watch.NewMonitorState(), nil
	}

	var probe versionProbe
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Version != nil {
		if *probe.Version != watch.StateVersion {
			return watch.MonitorState{}, fmt.Errorf("unsupported state version %d", *probe.Version)
		}
		var st watch.MonitorState
		if err := json.Unmarshal(raw, &st); err != nil {
			return watch.MonitorState{}, fmt.Errorf("decode state: %w", err)
		}
		if st.Entries == nil {
			st.Entries = make(map[string]watch.MonitorEntry)
		}
		return st, nil
	}

	var seen []string
	if err := json.Unmarshal(raw, &seen); err == nil {
		st := watch.NewMonitorState()
		for _, id := range seen {
			if id == "" {
				continue
			}
			st.Entries[id] = watch.MonitorEntry{CheckedAt: now}
		}
		return st, nil
	}

	var nested map[string]map[string]legacyEntry
	if err := json.Unmarshal(raw, &nested); err == nil {
		st := watch.NewMonitorState()
		keys := make([]string, 0, len(nested))
		for k := range nested {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			for id, e := range nested[k] {
				if id == "" {
					continue
				}
				checked := e.LastChecked
				if checked.IsZero() {
					checked = now
				}
				st.Entries[id] = watch.MonitorEntry{
					Replies:   e.Replies,
					Reposts:   e.Retweets,
					Likes:     e.Likes,
					CheckedAt: checked,
				}
			}
		}
		return st, nil
	}

	return watch.MonitorState{}, fmt.Errorf("unrecognized state shape")
}

// Encode marshals a state in the current shape for persistence.
func Encode(st watch.MonitorState) ([]byte, error) {
	st.Version = watch.StateVersion
	if st.Entries == nil {
		st.Entries = make(map[string]watch.MonitorEntry)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return data, nil
}
