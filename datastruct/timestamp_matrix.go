package datastruct

import (
	"fmt"
	"strings"
	"sync"
)

// TimestampMatrix keeps, for every participant, the summary vector this node
// believes that participant has. Its elementwise minimum is the set of
// operations acknowledged by everybody.
type TimestampMatrix struct {
	lock   sync.RWMutex
	matrix map[string]*TimestampVector // map from host id to its summary vector
}

func NewTimestampMatrix(participants []string) *TimestampMatrix {
	m := &TimestampMatrix{matrix: make(map[string]*TimestampVector, len(participants))}
	for _, p := range participants {
		m.matrix[p] = NewTimestampVector(participants)
	}
	return m
}

// MatrixFromSnapshot rebuilds a matrix from the map produced by Snapshot.
func MatrixFromSnapshot(snapshot map[string]map[string]Timestamp) *TimestampMatrix {
	m := &TimestampMatrix{matrix: make(map[string]*TimestampVector, len(snapshot))}
	for host, row := range snapshot {
		m.matrix[host] = VectorFromSnapshot(row)
	}
	return m
}

// GetTimestampVector returns the row of node by reference.
// Clone it before handing it to anybody else.
func (m *TimestampMatrix) GetTimestampVector(node string) *TimestampVector {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.row(node)
}

// UpdateMax merges other into m taking the elementwise maximum of every row.
func (m *TimestampMatrix) UpdateMax(other *TimestampMatrix) {
	theirs := other.Clone()
	m.lock.Lock()
	defer m.lock.Unlock()
	for host, row := range m.matrix {
		if otherRow, ok := theirs.matrix[host]; ok {
			row.UpdateMax(otherRow)
		}
	}
}

// Update substitutes the row of node with a copy of v. v must cover exactly
// the participants of the row it replaces.
func (m *TimestampMatrix) Update(node string, v *TimestampVector) {
	theirs := v.Snapshot()
	m.lock.Lock()
	defer m.lock.Unlock()
	current := m.row(node).Participants()
	if !sameKeys(current, theirs) {
		panic(fmt.Sprintf("timestamp matrix: row of %q over %v cannot be replaced by %v",
			node, current, sortedKeys(theirs)))
	}
	m.matrix[node] = VectorFromSnapshot(theirs)
}

// MinTimestampVector returns, for every host, the timestamp known by all participants.
func (m *TimestampMatrix) MinTimestampVector() *TimestampVector {
	m.lock.RLock()
	defer m.lock.RUnlock()
	var lowMark *TimestampVector
	for _, host := range sortedKeys(m.matrix) {
		if lowMark == nil {
			lowMark = m.matrix[host].Clone()
			continue
		}
		lowMark.MergeMin(m.matrix[host])
	}
	if lowMark == nil {
		panic("timestamp matrix: no participants")
	}
	return lowMark
}

func (m *TimestampMatrix) Clone() *TimestampMatrix {
	return MatrixFromSnapshot(m.Snapshot())
}

// Snapshot returns a deep copy of the underlying mapping.
func (m *TimestampMatrix) Snapshot() map[string]map[string]Timestamp {
	m.lock.RLock()
	defer m.lock.RUnlock()
	snapshot := make(map[string]map[string]Timestamp, len(m.matrix))
	for host, row := range m.matrix {
		snapshot[host] = row.Snapshot()
	}
	return snapshot
}

func (m *TimestampMatrix) Equal(other *TimestampMatrix) bool {
	if m == other {
		return true
	}
	if m == nil || other == nil {
		return false
	}
	mine, theirs := m.Snapshot(), other.Snapshot()
	if len(mine) != len(theirs) {
		return false
	}
	for host, row := range mine {
		otherRow, ok := theirs[host]
		if !ok || !snapshotsEqual(row, otherRow) {
			return false
		}
	}
	return true
}

func (m *TimestampMatrix) String() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	var b strings.Builder
	for _, host := range sortedKeys(m.matrix) {
		fmt.Fprintf(&b, "%s: %s\n", host, m.matrix[host])
	}
	return b.String()
}

// For concurrency safe: call of this function should be protected in a locking environment.
func (m *TimestampMatrix) row(node string) *TimestampVector {
	row, ok := m.matrix[node]
	if !ok {
		panic(fmt.Sprintf("timestamp matrix: %q is not a participant", node))
	}
	return row
}

func sameKeys(keys []string, m map[string]Timestamp) bool {
	if len(keys) != len(m) {
		return false
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			return false
		}
	}
	return true
}
