package node

import "tsae/datastruct"

// AERequest opens an anti-entropy session: the originator's summary and ack matrix.
type AERequest struct {
	Sender  string
	Session string
	Summary map[string]datastruct.Timestamp
	Ack     map[string]map[string]datastruct.Timestamp
}

// AEResponse carries the operations the originator lacks, then the partner's own knowledge.
type AEResponse struct {
	Sender  string
	Session string
	Ops     []datastruct.Operation
	Summary map[string]datastruct.Timestamp
	Ack     map[string]map[string]datastruct.Timestamp
}

// AEOperations carries the operations the partner lacks.
type AEOperations struct {
	Sender  string
	Session string
	Ops     []datastruct.Operation
}

// AEAck closes the session once the partner has merged.
type AEAck struct {
	Sender  string
	Session string
}
