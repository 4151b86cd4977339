package datastruct

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimestampCompare(t *testing.T) {
	null := NullTimestamp("node0")
	ts := []Timestamp{null, NewTimestamp("node0", 0), NewTimestamp("node0", 1), NewTimestamp("node0", 7)}
	for i := range ts {
		for j := range ts {
			assert.Equal(t, -ts[j].Compare(ts[i]), ts[i].Compare(ts[j]), "%s vs %s", ts[i], ts[j])
			switch {
			case i < j:
				assert.Equal(t, -1, ts[i].Compare(ts[j]))
			case i > j:
				assert.Equal(t, 1, ts[i].Compare(ts[j]))
			default:
				assert.Equal(t, 0, ts[i].Compare(ts[j]))
			}
		}
	}
}

func TestNullTimestamps(t *testing.T) {
	a := NullTimestamp("node1")
	b := Timestamp{HostID: "node1", Seq: 42}
	assert.True(t, a.IsNull())
	assert.True(t, b.IsNull())
	assert.Equal(t, 0, a.Compare(b))
	assert.True(t, a.Equal(b))
	assert.Equal(t, -1, a.Compare(NewTimestamp("node1", 0)))
	assert.Equal(t, "node1:null", a.String())
}

func TestTimestampNext(t *testing.T) {
	first := NullTimestamp("node2").Next()
	assert.Equal(t, NewTimestamp("node2", 0), first)
	assert.Equal(t, NewTimestamp("node2", 1), first.Next())
	assert.Equal(t, "node2:1", first.Next().String())
}
