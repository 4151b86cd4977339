package datastruct

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Operation is one update issued by Timestamp.HostID. The payload belongs to
// the application and is never interpreted here.
type Operation struct {
	Timestamp Timestamp
	Payload   []byte
}

func (op Operation) Equal(other Operation) bool {
	return op.Timestamp.Equal(other.Timestamp) && bytes.Equal(op.Payload, other.Payload)
}

func (op Operation) String() string {
	return fmt.Sprintf("op(%s, %d bytes)", op.Timestamp, len(op.Payload))
}

// Log stores the operations received by a node, one causally ordered list per
// origin host.
type Log struct {
	lock   sync.Mutex
	log    map[string][]Operation // map from host id to its operations, oldest first
	logger hclog.Logger
}

// NewLog creates an empty log. Purge traces go to logger; nil discards them.
func NewLog(participants []string, logger hclog.Logger) *Log {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	l := &Log{
		log:    make(map[string][]Operation, len(participants)),
		logger: logger,
	}
	for _, p := range participants {
		l.log[p] = []Operation{}
	}
	return l
}

// Add appends op if it is newer than the last operation stored for its host.
// It returns false, leaving the log untouched, for duplicates and out of order
// operations.
func (l *Log) Add(op Operation) bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	host := op.Timestamp.HostID
	ops := l.log[host]
	if len(ops) > 0 && op.Timestamp.Compare(ops[len(ops)-1].Timestamp) <= 0 {
		return false
	}
	l.log[host] = append(ops, op)
	return true
}

// ListNewer returns the operations that the owner of summary has not seen yet.
// Operations of one host keep their order.
func (l *Log) ListNewer(summary *TimestampVector) []Operation {
	seen := summary.Snapshot()
	l.lock.Lock()
	defer l.lock.Unlock()
	var pending []Operation
	for _, host := range sortedKeys(l.log) {
		last, ok := seen[host]
		if !ok {
			continue
		}
		for _, op := range l.log[host] {
			if op.Timestamp.Compare(last) > 0 {
				pending = append(pending, op)
			}
		}
	}
	return pending
}

// PurgeLog removes the operations acknowledged by every participant according
// to ack and returns how many were removed.
func (l *Log) PurgeLog(ack *TimestampMatrix) int {
	l.logger.Trace("purging log")
	lowMark := ack.MinTimestampVector()
	l.logger.Trace("computed acknowledgement vector", "min", lowMark.String())
	acked := lowMark.Snapshot()

	l.lock.Lock()
	defer l.lock.Unlock()
	removed := 0
	for host, ops := range l.log {
		last, ok := acked[host]
		if !ok || last.IsNull() {
			continue
		}
		kept := ops[:0]
		for _, op := range ops {
			if op.Timestamp.Compare(last) <= 0 {
				l.logger.Trace("removing operation", "op", op.String())
				removed++
				continue
			}
			kept = append(kept, op)
		}
		l.log[host] = kept
	}
	return removed
}

// Size returns the number of operations currently stored.
func (l *Log) Size() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	size := 0
	for _, ops := range l.log {
		size += len(ops)
	}
	return size
}

// Operations returns a copy of the operations stored for host.
func (l *Log) Operations(host string) []Operation {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]Operation(nil), l.log[host]...)
}

func (l *Log) Equal(other *Log) bool {
	if l == other {
		return true
	}
	if l == nil || other == nil {
		return false
	}
	mine, theirs := l.snapshot(), other.snapshot()
	if len(mine) != len(theirs) {
		return false
	}
	for host, ops := range mine {
		otherOps, ok := theirs[host]
		if !ok || len(ops) != len(otherOps) {
			return false
		}
		for i := range ops {
			if !ops[i].Equal(otherOps[i]) {
				return false
			}
		}
	}
	return true
}

func (l *Log) String() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	var b strings.Builder
	for _, host := range sortedKeys(l.log) {
		for _, op := range l.log[host] {
			b.WriteString(op.String())
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (l *Log) snapshot() map[string][]Operation {
	l.lock.Lock()
	defer l.lock.Unlock()
	snapshot := make(map[string][]Operation, len(l.log))
	for host, ops := range l.log {
		snapshot[host] = append([]Operation(nil), ops...)
	}
	return snapshot
}
