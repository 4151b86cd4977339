package node

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tsae/conn"
	"tsae/datastruct"
	"tsae/metrics"
)

const (
	roleOriginator = "originator"
	rolePartner    = "partner"
)

// SessionWith runs the originator side of one anti-entropy session with peer:
//
//	-> AERequest    our summary and ack matrix
//	<- AEResponse   operations we lack, the peer's summary and ack matrix
//	-> AEOperations operations the peer lacks
//	<- AEAck        the peer has merged
//
// Both sides merge what they received and purge their logs. When SessionWith
// returns nil the peer has merged too.
func (n *Node) SessionWith(ctx context.Context, peer string) (err error) {
	addr, ok := n.clusterAddr[peer]
	if !ok || peer == n.name {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}
	if n.trans == nil {
		return ErrNotListening
	}
	start := time.Now()
	defer func() { observeSession(roleOriginator, start, err) }()

	session := uuid.NewString()
	logger := n.logger.With("session", session, "peer", peer, "role", roleOriginator)

	ctx, cancel := context.WithTimeout(ctx, n.sessionTimeout)
	defer cancel()
	c, err := n.trans.Dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", peer, err)
	}
	defer c.Close()
	if deadline, ok := ctx.Deadline(); ok {
		if err = c.SetDeadline(deadline); err != nil {
			return err
		}
	}

	summary, ack := n.snapshotForSession()
	err = c.SendMsg(AERequestTag, AERequest{
		Sender:  n.name,
		Session: session,
		Summary: summary.Snapshot(),
		Ack:     ack.Snapshot(),
	})
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	msg, err := n.receiveFrom(c, peer)
	if err != nil {
		return err
	}
	resp, ok := msg.(AEResponse)
	if !ok || resp.Session != session {
		return fmt.Errorf("%w: %T while waiting for a response", ErrUnexpectedMessage, msg)
	}
	peerSummary := datastruct.VectorFromSnapshot(resp.Summary)

	ops := n.log.ListNewer(peerSummary)
	err = c.SendMsg(AEOperationsTag, AEOperations{Sender: n.name, Session: session, Ops: ops})
	if err != nil {
		return fmt.Errorf("send operations: %w", err)
	}

	admitted := n.mergeSession(resp.Ops, peerSummary, datastruct.MatrixFromSnapshot(resp.Ack))

	msg, err = n.receiveFrom(c, peer)
	if err != nil {
		return err
	}
	if ack, ok := msg.(AEAck); !ok || ack.Session != session {
		return fmt.Errorf("%w: %T while waiting for an ack", ErrUnexpectedMessage, msg)
	}
	logger.Debug("session finished", "sent", len(ops), "received", len(resp.Ops),
		"admitted", len(admitted))
	return nil
}

// handleSession runs the partner side of a session opened by another node.
func (n *Node) handleSession(c *conn.Conn) {
	defer c.Close()
	start := time.Now()
	var err error
	defer func() {
		observeSession(rolePartner, start, err)
		if err != nil {
			n.logger.Warn("incoming session failed", "remote", c.RemoteAddr().String(), "error", err)
		}
	}()
	if err = c.SetDeadline(start.Add(n.sessionTimeout)); err != nil {
		return
	}

	msg, err := n.receiveFrom(c, "")
	if err != nil {
		return
	}
	req, ok := msg.(AERequest)
	if !ok {
		err = fmt.Errorf("%w: %T while waiting for a request", ErrUnexpectedMessage, msg)
		return
	}
	logger := n.logger.With("session", req.Session, "peer", req.Sender, "role", rolePartner)
	peerSummary := datastruct.VectorFromSnapshot(req.Summary)

	summary, ack := n.snapshotForSession()
	ops := n.log.ListNewer(peerSummary)
	err = c.SendMsg(AEResponseTag, AEResponse{
		Sender:  n.name,
		Session: req.Session,
		Ops:     ops,
		Summary: summary.Snapshot(),
		Ack:     ack.Snapshot(),
	})
	if err != nil {
		return
	}

	msg, err = n.receiveFrom(c, req.Sender)
	if err != nil {
		return
	}
	peerOps, ok := msg.(AEOperations)
	if !ok || peerOps.Session != req.Session {
		err = fmt.Errorf("%w: %T while waiting for operations", ErrUnexpectedMessage, msg)
		return
	}

	admitted := n.mergeSession(peerOps.Ops, peerSummary, datastruct.MatrixFromSnapshot(req.Ack))
	if err = c.SendMsg(AEAckTag, AEAck{Sender: n.name, Session: req.Session}); err != nil {
		return
	}
	logger.Debug("session finished", "sent", len(ops), "received", len(peerOps.Ops),
		"admitted", len(admitted))
}

// receiveFrom reads the next message. The transport has already checked the
// frame signature against its sender. An empty peer accepts any participant.
func (n *Node) receiveFrom(c *conn.Conn, peer string) (interface{}, error) {
	msgWithSig, err := c.ReceiveMsg()
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	sender := senderOf(msgWithSig.Msg)
	if sender != msgWithSig.Sender {
		return nil, fmt.Errorf("%w: %q signed a message of %q", ErrUnexpectedMessage, msgWithSig.Sender, sender)
	}
	if peer != "" && sender != peer {
		return nil, fmt.Errorf("%w: from %q, expected %q", ErrUnexpectedMessage, sender, peer)
	}
	return msgWithSig.Msg, nil
}

func observeSession(role string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Sessions.WithLabelValues(role, result).Inc()
	metrics.SessionDuration.Observe(float64(time.Since(start).Milliseconds()))
}
