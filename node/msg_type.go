package node

import "reflect"

const (
	AERequestTag uint8 = iota
	AEResponseTag
	AEOperationsTag
	AEAckTag
)

var aeRequest AERequest
var aeResponse AEResponse
var aeOperations AEOperations
var aeAck AEAck

var reflectedTypesMap = map[uint8]reflect.Type{
	AERequestTag:    reflect.TypeOf(aeRequest),
	AEResponseTag:   reflect.TypeOf(aeResponse),
	AEOperationsTag: reflect.TypeOf(aeOperations),
	AEAckTag:        reflect.TypeOf(aeAck),
}

func senderOf(msg interface{}) string {
	switch m := msg.(type) {
	case AERequest:
		return m.Sender
	case AEResponse:
		return m.Sender
	case AEOperations:
		return m.Sender
	case AEAck:
		return m.Sender
	}
	return ""
}
