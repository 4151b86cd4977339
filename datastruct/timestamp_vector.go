package datastruct

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TimestampVector is a summary vector: for every participant, the timestamp of
// the last operation received from it.
type TimestampVector struct {
	lock   sync.RWMutex
	vector map[string]Timestamp // map from host id to its last timestamp
}

func NewTimestampVector(participants []string) *TimestampVector {
	v := &TimestampVector{vector: make(map[string]Timestamp, len(participants))}
	for _, p := range participants {
		v.vector[p] = NullTimestamp(p)
	}
	return v
}

// VectorFromSnapshot rebuilds a vector from the map produced by Snapshot.
// The keys of the snapshot become the participant set.
func VectorFromSnapshot(snapshot map[string]Timestamp) *TimestampVector {
	v := &TimestampVector{vector: make(map[string]Timestamp, len(snapshot))}
	for host, ts := range snapshot {
		if ts.IsNull() {
			ts = NullTimestamp(host)
		}
		v.vector[host] = ts
	}
	return v
}

// UpdateTimestamp replaces the entry of ts.HostID with ts.
func (v *TimestampVector) UpdateTimestamp(ts Timestamp) {
	v.lock.Lock()
	defer v.lock.Unlock()
	v.mustHave(ts.HostID)
	v.vector[ts.HostID] = ts
}

// UpdateMax merges other into v taking the elementwise maximum.
func (v *TimestampVector) UpdateMax(other *TimestampVector) {
	// snapshot first: other may be v itself, and we never hold two vector locks
	theirs := other.Snapshot()
	v.lock.Lock()
	defer v.lock.Unlock()
	for host, mine := range v.vector {
		ts, ok := theirs[host]
		if !ok || ts.IsNull() {
			continue
		}
		if ts.Compare(mine) > 0 {
			v.vector[host] = ts
		}
	}
}

// MergeMin merges other into v taking the elementwise minimum.
// An origin that is null in either vector ends up null.
func (v *TimestampVector) MergeMin(other *TimestampVector) {
	theirs := other.Snapshot()
	v.lock.Lock()
	defer v.lock.Unlock()
	for host, mine := range v.vector {
		ts, ok := theirs[host]
		if !ok || ts.IsNull() {
			v.vector[host] = NullTimestamp(host)
			continue
		}
		if ts.Compare(mine) < 0 {
			v.vector[host] = ts
		}
	}
}

// GetLast returns the last timestamp received from node.
// node must be a participant.
func (v *TimestampVector) GetLast(node string) Timestamp {
	v.lock.RLock()
	defer v.lock.RUnlock()
	v.mustHave(node)
	return v.vector[node]
}

func (v *TimestampVector) Clone() *TimestampVector {
	return VectorFromSnapshot(v.Snapshot())
}

// Snapshot returns a copy of the underlying mapping.
func (v *TimestampVector) Snapshot() map[string]Timestamp {
	v.lock.RLock()
	defer v.lock.RUnlock()
	snapshot := make(map[string]Timestamp, len(v.vector))
	for host, ts := range v.vector {
		snapshot[host] = ts
	}
	return snapshot
}

// Participants returns the sorted participant ids of v.
func (v *TimestampVector) Participants() []string {
	v.lock.RLock()
	defer v.lock.RUnlock()
	return sortedKeys(v.vector)
}

func (v *TimestampVector) Equal(other *TimestampVector) bool {
	if v == other {
		return true
	}
	if v == nil || other == nil {
		return false
	}
	return snapshotsEqual(v.Snapshot(), other.Snapshot())
}

func (v *TimestampVector) String() string {
	snapshot := v.Snapshot()
	var b strings.Builder
	b.WriteString("[")
	for i, host := range sortedKeys(snapshot) {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(snapshot[host].String())
	}
	b.WriteString("]")
	return b.String()
}

// For concurrency safe: call of this function should be protected in a locking environment.
func (v *TimestampVector) mustHave(node string) {
	if _, ok := v.vector[node]; !ok {
		panic(fmt.Sprintf("timestamp vector: %q is not a participant", node))
	}
}

func snapshotsEqual(a, b map[string]Timestamp) bool {
	if len(a) != len(b) {
		return false
	}
	for host, ts := range a {
		other, ok := b[host]
		if !ok || !ts.Equal(other) {
			return false
		}
	}
	return true
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
