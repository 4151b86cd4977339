package datastruct

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTimestampMatrix(t *testing.T) {
	m := NewTimestampMatrix(participants)
	for _, p := range participants {
		assert.True(t, m.GetTimestampVector(p).Equal(NewTimestampVector(participants)))
	}
	assert.Panics(t, func() { m.GetTimestampVector("stranger") })
}

func TestMinTimestampVector(t *testing.T) {
	two := []string{"A", "B"}
	m := NewTimestampMatrix(two)
	rowA := NewTimestampVector(two)
	rowA.UpdateTimestamp(NewTimestamp("A", 3))
	rowA.UpdateTimestamp(NewTimestamp("B", 1))
	rowB := NewTimestampVector(two)
	rowB.UpdateTimestamp(NewTimestamp("A", 1))
	rowB.UpdateTimestamp(NewTimestamp("B", 2))
	m.Update("A", rowA)
	m.Update("B", rowB)

	low := m.MinTimestampVector()
	assert.Equal(t, NewTimestamp("A", 1), low.GetLast("A"))
	assert.Equal(t, NewTimestamp("B", 1), low.GetLast("B"))

	rowB.UpdateTimestamp(NullTimestamp("B"))
	m.Update("B", rowB)
	low = m.MinTimestampVector()
	assert.Equal(t, NewTimestamp("A", 1), low.GetLast("A"))
	assert.True(t, low.GetLast("B").IsNull())
}

func TestMinTimestampVectorDoesNotAlias(t *testing.T) {
	m := NewTimestampMatrix(participants)
	for _, p := range participants {
		m.Update(p, vectorOf(t, map[string]int{"node0": 2}))
	}
	low := m.MinTimestampVector()
	low.UpdateTimestamp(NewTimestamp("node0", 0))
	for _, p := range participants {
		assert.Equal(t, NewTimestamp("node0", 2), m.GetTimestampVector(p).GetLast("node0"))
	}
}

func TestMatrixUpdateReplacesRow(t *testing.T) {
	m := NewTimestampMatrix(participants)
	m.Update("node1", vectorOf(t, map[string]int{"node0": 5, "node1": 5}))
	m.Update("node1", vectorOf(t, map[string]int{"node0": 2}))
	row := m.GetTimestampVector("node1")
	assert.Equal(t, NewTimestamp("node0", 2), row.GetLast("node0"))
	assert.True(t, row.GetLast("node1").IsNull())
}

func TestMatrixUpdateRejectsOtherDomain(t *testing.T) {
	m := NewTimestampMatrix(participants)
	assert.Panics(t, func() { m.Update("node1", NewTimestampVector([]string{"node0", "node1"})) })
	assert.Panics(t, func() {
		m.Update("node1", NewTimestampVector([]string{"node0", "node1", "node2", "node3"}))
	})
	assert.Panics(t, func() { m.Update("node1", NewTimestampVector([]string{"node0", "node1", "node9"})) })
	assert.True(t, m.GetTimestampVector("node1").Equal(NewTimestampVector(participants)))
}

func TestMatrixUpdateStoresCopy(t *testing.T) {
	m := NewTimestampMatrix(participants)
	v := vectorOf(t, map[string]int{"node0": 1})
	m.Update("node0", v)
	v.UpdateTimestamp(NewTimestamp("node0", 8))
	assert.Equal(t, NewTimestamp("node0", 1), m.GetTimestampVector("node0").GetLast("node0"))
}

func TestMatrixUpdateMax(t *testing.T) {
	m := NewTimestampMatrix(participants)
	m.Update("node0", vectorOf(t, map[string]int{"node0": 4, "node1": 1}))

	other := NewTimestampMatrix(participants)
	other.Update("node0", vectorOf(t, map[string]int{"node0": 2, "node1": 3}))
	other.Update("node2", vectorOf(t, map[string]int{"node2": 7}))

	m.UpdateMax(other)
	assert.True(t, m.GetTimestampVector("node0").Equal(vectorOf(t, map[string]int{"node0": 4, "node1": 3, "node2": -1})))
	assert.True(t, m.GetTimestampVector("node1").Equal(NewTimestampVector(participants)))
	assert.True(t, m.GetTimestampVector("node2").Equal(vectorOf(t, map[string]int{"node2": 7})))

	before := m.Clone()
	m.UpdateMax(m)
	assert.True(t, m.Equal(before))
}

func TestMatrixCloneRoundTrip(t *testing.T) {
	m := NewTimestampMatrix(participants)
	m.Update("node2", vectorOf(t, map[string]int{"node0": 1, "node2": 3}))
	c := m.Clone()
	require.True(t, m.Equal(c))

	c.GetTimestampVector("node2").UpdateTimestamp(NewTimestamp("node1", 6))
	assert.True(t, m.GetTimestampVector("node2").GetLast("node1").IsNull())
	assert.False(t, m.Equal(c))

	m.GetTimestampVector("node0").UpdateTimestamp(NewTimestamp("node0", 9))
	assert.True(t, c.GetTimestampVector("node0").GetLast("node0").IsNull())

	assert.True(t, m.Equal(MatrixFromSnapshot(m.Snapshot())))
}

func TestMatrixConcurrentUpdateAndMin(t *testing.T) {
	m := NewTimestampMatrix(participants)
	var wg sync.WaitGroup
	for _, host := range participants {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			for seq := 0; seq < 100; seq++ {
				m.Update(host, vectorOf(t, map[string]int{"node0": seq, "node1": seq, "node2": seq}))
			}
		}(host)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := 0; seq < 100; seq++ {
			other := NewTimestampMatrix(participants)
			for _, host := range participants {
				other.Update(host, vectorOf(t, map[string]int{"node0": seq}))
			}
			m.UpdateMax(other)
		}
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			low := m.MinTimestampVector()
			assert.Equal(t, participants, low.Participants())
			m.Clone()
		}
	}()
	wg.Wait()

	for _, host := range participants {
		assert.True(t, m.GetTimestampVector(host).Equal(vectorOf(t, map[string]int{"node0": 99, "node1": 99, "node2": 99})),
			"row of %s", host)
	}
	assert.True(t, m.MinTimestampVector().Equal(vectorOf(t, map[string]int{"node0": 99, "node1": 99, "node2": 99})))
}
