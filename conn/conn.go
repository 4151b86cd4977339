// Package conn carries signed, msgpack-encoded messages between replicas.
package conn

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-msgpack/codec"
)

// MaxFrameSize bounds the encoded size of one frame. Every frame is preceded
// by its size as a big endian uint32.
const MaxFrameSize = 16 << 20

var (
	ErrUnknownTag    = errors.New("conn: unknown message tag")
	ErrFrameTooLarge = errors.New("conn: frame too large")
)

// Signer produces the signature attached to every outgoing payload.
type Signer func(payload []byte) ([]byte, error)

// Verifier checks the signature of a payload claimed to come from sender.
// The payload is only decoded once it returns nil.
type Verifier func(sender string, payload, sig []byte) error

// frame is what actually travels on the wire.
type frame struct {
	Tag     uint8
	Sender  string
	Payload []byte
	Sig     []byte
}

// MsgWithSig is a decoded message together with the bytes that were signed.
type MsgWithSig struct {
	Tag     uint8
	Sender  string
	Msg     interface{}
	Payload []byte
	Sig     []byte
}

// Conn is a framed connection to one peer.
type Conn struct {
	conn     net.Conn
	types    map[uint8]reflect.Type
	local    string
	signer   Signer
	verifier Verifier

	writeLock sync.Mutex
	bw        *bufio.Writer
	br        *bufio.Reader
}

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := &codec.MsgpackHandle{}
	mh.RawToString = true
	mh.WriteExt = true
	return mh
}

// NewConn wraps c. types maps each message tag to the Go type decoded for it,
// local is the sender name written into outgoing frames. A nil verifier
// accepts every frame.
func NewConn(c net.Conn, types map[uint8]reflect.Type, local string, signer Signer, verifier Verifier) *Conn {
	return &Conn{
		conn:     c,
		types:    types,
		local:    local,
		signer:   signer,
		verifier: verifier,
		bw:       bufio.NewWriter(c),
		br:       bufio.NewReader(c),
	}
}

// SendMsg encodes msg, signs the encoding and writes it as one frame.
func (c *Conn) SendMsg(tag uint8, msg interface{}) error {
	if _, ok := c.types[tag]; !ok {
		return ErrUnknownTag
	}
	payload, err := Encode(msg)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", tag, err)
	}
	sig, err := c.signer(payload)
	if err != nil {
		return fmt.Errorf("sign message %d: %w", tag, err)
	}
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	if err := writeFrame(c.bw, &frame{Tag: tag, Sender: c.local, Payload: payload, Sig: sig}); err != nil {
		return err
	}
	return c.bw.Flush()
}

func writeFrame(w io.Writer, f *frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func readFrame(r io.Reader) (*frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	var f frame
	if err := Decode(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// ReceiveMsg blocks until the next frame arrives, verifies it and decodes its
// payload into the type registered for its tag.
func (c *Conn) ReceiveMsg() (*MsgWithSig, error) {
	f, err := readFrame(c.br)
	if err != nil {
		return nil, err
	}
	typ, ok := c.types[f.Tag]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, f.Tag)
	}
	if c.verifier != nil {
		if err := c.verifier(f.Sender, f.Payload, f.Sig); err != nil {
			return nil, fmt.Errorf("verify frame from %q: %w", f.Sender, err)
		}
	}
	msg := reflect.New(typ)
	if err := Decode(f.Payload, msg.Interface()); err != nil {
		return nil, fmt.Errorf("decode message %d: %w", f.Tag, err)
	}
	return &MsgWithSig{Tag: f.Tag, Sender: f.Sender, Msg: msg.Elem().Interface(), Payload: f.Payload, Sig: f.Sig}, nil
}

// SetDeadline bounds every following read and write.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// NetworkTransport accepts and opens Conns for one node.
type NetworkTransport struct {
	listener net.Listener
	types    map[uint8]reflect.Type
	local    string
	signer   Signer
	verifier Verifier
	timeout  time.Duration
}

// NewTCPTransport listens on bindAddr. timeout bounds dialing.
func NewTCPTransport(bindAddr string, timeout time.Duration, types map[uint8]reflect.Type,
	local string, signer Signer, verifier Verifier) (*NetworkTransport, error) {
	listener, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &NetworkTransport{
		listener: listener,
		types:    types,
		local:    local,
		signer:   signer,
		verifier: verifier,
		timeout:  timeout,
	}, nil
}

func (t *NetworkTransport) Addr() net.Addr {
	return t.listener.Addr()
}

func (t *NetworkTransport) Accept() (*Conn, error) {
	c, err := t.listener.Accept()
	if err != nil {
		return nil, err
	}
	return NewConn(c, t.types, t.local, t.signer, t.verifier), nil
}

func (t *NetworkTransport) Dial(ctx context.Context, addr string) (*Conn, error) {
	dialer := net.Dialer{Timeout: t.timeout}
	c, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewConn(c, t.types, t.local, t.signer, t.verifier), nil
}

func (t *NetworkTransport) Close() error {
	return t.listener.Close()
}

// Encode encodes data with msgpack.
func Encode(data interface{}) ([]byte, error) {
	var buf []byte
	if err := codec.NewEncoderBytes(&buf, newMsgpackHandle()).Encode(data); err != nil {
		return nil, err
	}
	return buf, nil
}

// Decode decodes msgpack bytes into out, which must be a pointer.
func Decode(data []byte, out interface{}) error {
	return codec.NewDecoderBytes(data, newMsgpackHandle()).Decode(out)
}
