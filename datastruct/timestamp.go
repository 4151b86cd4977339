package datastruct

import "fmt"

// Timestamp marks one operation issued by HostID. A timestamp with Valid unset
// is the null timestamp: nothing has been seen from HostID yet.
type Timestamp struct {
	HostID string
	Seq    uint64
	Valid  bool
}

func NewTimestamp(hostID string, seq uint64) Timestamp {
	return Timestamp{HostID: hostID, Seq: seq, Valid: true}
}

func NullTimestamp(hostID string) Timestamp {
	return Timestamp{HostID: hostID}
}

func (ts Timestamp) IsNull() bool {
	return !ts.Valid
}

// Next returns the timestamp the same host issues after ts.
// The successor of the null timestamp is sequence 0.
func (ts Timestamp) Next() Timestamp {
	if ts.IsNull() {
		return NewTimestamp(ts.HostID, 0)
	}
	return NewTimestamp(ts.HostID, ts.Seq+1)
}

// Compare orders two timestamps of the same host: -1, 0 or 1.
// Timestamps of different hosts are not comparable; callers never mix them.
func (ts Timestamp) Compare(other Timestamp) int {
	switch {
	case ts.IsNull() && other.IsNull():
		return 0
	case ts.IsNull():
		return -1
	case other.IsNull():
		return 1
	case ts.Seq < other.Seq:
		return -1
	case ts.Seq > other.Seq:
		return 1
	}
	return 0
}

func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.HostID == other.HostID && ts.Compare(other) == 0
}

func (ts Timestamp) String() string {
	if ts.IsNull() {
		return fmt.Sprintf("%s:null", ts.HostID)
	}
	return fmt.Sprintf("%s:%d", ts.HostID, ts.Seq)
}
