package node

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"tsae/config"
	"tsae/conn"
	"tsae/datastruct"
	"tsae/metrics"
	"tsae/sign"
)

var (
	ErrUnknownPeer       = errors.New("node: unknown peer")
	ErrBadSignature      = errors.New("node: bad signature")
	ErrUnexpectedMessage = errors.New("node: unexpected message")
	ErrNotListening      = errors.New("node: transport not started")
)

// Node is one TSAE replica.
type Node struct {
	name         string
	lock         sync.Mutex // admission of operations and the summary advance together
	log          *datastruct.Log
	summary      *datastruct.TimestampVector // what this node has seen
	ack          *datastruct.TimestampMatrix // what this node believes everybody has seen
	participants map[string]bool
	logger       hclog.Logger

	clusterAddr       map[string]string // map from name to host:port
	sessionInterval   time.Duration
	sessionTimeout    time.Duration
	purgeAfterSession bool
	trans             *conn.NetworkTransport

	//Used for ED25519 signature
	publicKeyMap map[string][]byte
	privateKey   []byte

	reflectedTypesMap map[uint8]reflect.Type

	applyLock    sync.RWMutex
	applyHandler func(datastruct.Operation)
}

func NewNode(conf *config.Config) (*Node, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	var n Node
	n.name = conf.Name
	n.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "TSAE-node",
		Output: hclog.DefaultOutput,
		Level:  hclog.Level(conf.LogLevel),
	}).With("node", conf.Name)

	participants := conf.Participants()
	n.participants = make(map[string]bool, len(participants))
	for _, p := range participants {
		n.participants[p] = true
	}
	n.log = datastruct.NewLog(participants, n.logger.Named("log"))
	n.summary = datastruct.NewTimestampVector(participants)
	n.ack = datastruct.NewTimestampMatrix(participants)

	n.clusterAddr = conf.ClusterAddr
	n.sessionInterval = conf.SessionInterval
	n.sessionTimeout = conf.SessionTimeout
	if n.sessionTimeout <= 0 {
		n.sessionTimeout = 5 * time.Second
	}
	n.purgeAfterSession = conf.PurgeAfterSession

	n.publicKeyMap = conf.PublicKeyMap
	n.privateKey = conf.PrivateKey

	n.reflectedTypesMap = reflectedTypesMap
	return &n, nil
}

// StartP2PListen binds the address of this node in the cluster.
func (n *Node) StartP2PListen() error {
	trans, err := conn.NewTCPTransport(n.clusterAddr[n.name], n.sessionTimeout, n.reflectedTypesMap,
		n.name, n.signEd25519, n.verifyFrame)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", n.clusterAddr[n.name], err)
	}
	n.trans = trans
	return nil
}

// Run serves incoming sessions and starts one session with a random peer
// every session interval, until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if n.trans == nil {
		return ErrNotListening
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return n.trans.Close()
	})
	g.Go(func() error {
		return n.acceptLoop(ctx)
	})
	g.Go(func() error {
		return n.antiEntropyLoop(ctx)
	})
	return g.Wait()
}

func (n *Node) acceptLoop(ctx context.Context) error {
	for {
		c, err := n.trans.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go n.handleSession(c)
	}
}

func (n *Node) antiEntropyLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.sessionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			peer := n.randomPeer()
			if peer == "" {
				continue
			}
			if err := n.SessionWith(ctx, peer); err != nil && ctx.Err() == nil {
				n.logger.Warn("anti-entropy session failed", "peer", peer, "error", err)
			}
		}
	}
}

func (n *Node) randomPeer() string {
	var peers []string
	for p := range n.participants {
		if p != n.name {
			peers = append(peers, p)
		}
	}
	if len(peers) == 0 {
		return ""
	}
	return peers[rand.Intn(len(peers))]
}

// AddLocalOperation issues the next timestamp of this node for payload and
// admits the operation.
func (n *Node) AddLocalOperation(payload []byte) (datastruct.Operation, error) {
	n.lock.Lock()
	op := datastruct.Operation{
		Timestamp: n.summary.GetLast(n.name).Next(),
		Payload:   payload,
	}
	if !n.log.Add(op) {
		n.lock.Unlock()
		return op, fmt.Errorf("log refused local operation %s", op.Timestamp)
	}
	n.summary.UpdateTimestamp(op.Timestamp)
	n.lock.Unlock()

	metrics.OperationsAdmitted.WithLabelValues("local").Inc()
	metrics.LogSize.Set(float64(n.log.Size()))
	n.logger.Debug("local operation", "timestamp", op.Timestamp.String())
	n.apply(op)
	return op, nil
}

// SetApplyHandler registers f to be called once for every admitted operation.
func (n *Node) SetApplyHandler(f func(datastruct.Operation)) {
	n.applyLock.Lock()
	n.applyHandler = f
	n.applyLock.Unlock()
}

func (n *Node) apply(op datastruct.Operation) {
	n.applyLock.RLock()
	f := n.applyHandler
	n.applyLock.RUnlock()
	if f != nil {
		f(op)
	}
}

// snapshotForSession refreshes our own ack row and returns copies of the
// summary and the ack matrix to be sent to a peer.
func (n *Node) snapshotForSession() (*datastruct.TimestampVector, *datastruct.TimestampMatrix) {
	n.lock.Lock()
	defer n.lock.Unlock()
	summary := n.summary.Clone()
	n.ack.Update(n.name, summary)
	return summary, n.ack.Clone()
}

// For concurrency safe: call of this function should be protected in a locking environment.
func (n *Node) admit(op datastruct.Operation) bool {
	host := op.Timestamp.HostID
	if !n.participants[host] {
		n.logger.Warn("operation from unknown host", "timestamp", op.Timestamp.String())
		return false
	}
	// purged operations are no longer in the log, the summary still covers them
	if op.Timestamp.Compare(n.summary.GetLast(host)) <= 0 {
		return false
	}
	if !n.log.Add(op) {
		return false
	}
	n.summary.UpdateTimestamp(op.Timestamp)
	return true
}

// mergeSession folds what a peer sent during a session into this node and
// returns the operations that were admitted.
func (n *Node) mergeSession(ops []datastruct.Operation, peerSummary *datastruct.TimestampVector,
	peerAck *datastruct.TimestampMatrix) []datastruct.Operation {
	var admitted []datastruct.Operation
	n.lock.Lock()
	for _, op := range ops {
		if n.admit(op) {
			admitted = append(admitted, op)
		} else {
			metrics.OperationsRejected.Inc()
		}
	}
	n.summary.UpdateMax(peerSummary)
	n.ack.UpdateMax(peerAck)
	n.ack.Update(n.name, n.summary)
	n.lock.Unlock()

	if n.purgeAfterSession {
		n.Purge()
	}
	metrics.OperationsAdmitted.WithLabelValues("remote").Add(float64(len(admitted)))
	metrics.LogSize.Set(float64(n.log.Size()))
	for _, op := range admitted {
		n.apply(op)
	}
	return admitted
}

// Purge discards the operations every replica is known to have seen.
func (n *Node) Purge() int {
	purged := n.log.PurgeLog(n.ack)
	if purged > 0 {
		metrics.OperationsPurged.Add(float64(purged))
		n.logger.Debug("purged log", "operations", purged)
	}
	return purged
}

func (n *Node) Name() string {
	return n.name
}

// Summary returns a copy of the summary vector of this node.
func (n *Node) Summary() *datastruct.TimestampVector {
	return n.summary.Clone()
}

// Ack returns a copy of the ack matrix of this node.
func (n *Node) Ack() *datastruct.TimestampMatrix {
	return n.ack.Clone()
}

func (n *Node) LogSize() int {
	return n.log.Size()
}

// Operations returns the stored (not yet purged) operations issued by host.
func (n *Node) Operations(host string) []datastruct.Operation {
	return n.log.Operations(host)
}

func (n *Node) Close() error {
	if n.trans == nil {
		return nil
	}
	return n.trans.Close()
}

func (n *Node) signEd25519(payload []byte) ([]byte, error) {
	return sign.SignEd25519(n.privateKey, payload)
}

// verifyFrame accepts frames signed by another participant only.
func (n *Node) verifyFrame(sender string, payload, sig []byte) error {
	if !n.participants[sender] || sender == n.name {
		return fmt.Errorf("%w: %q", ErrUnknownPeer, sender)
	}
	if !n.verifySigED25519(sender, payload, sig) {
		return ErrBadSignature
	}
	return nil
}

func (n *Node) verifySigED25519(peer string, payload []byte, sig []byte) bool {
	pubKey, ok := n.publicKeyMap[peer]
	if !ok {
		n.logger.Error("node is unknown", "node", peer)
		return false
	}
	ok, err := sign.VerifySignEd25519(pubKey, payload, sig)
	if err != nil {
		n.logger.Error("fail to verify the ED25519 signature", "error", err)
		return false
	}
	return ok
}
