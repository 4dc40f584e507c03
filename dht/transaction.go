package dht

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/mainline/crypto"
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/transport"
	"github.com/sirupsen/logrus"
)

// maxTransactionIDAttempts bounds the random draws for a free ID.
const maxTransactionIDAttempts = 32

// Transaction is one outstanding query. It completes exactly once, with
// either the matching response or an error.
type Transaction struct {
	ID       string
	Target   krpc.NodeInfo
	Method   string
	Issued   time.Time
	Deadline time.Time

	once sync.Once
	done chan struct{}
	resp *krpc.Message
	err  error
}

func newTransaction(id string, target krpc.NodeInfo, method string, issued time.Time, timeout time.Duration) *Transaction {
	return &Transaction{
		ID:       id,
		Target:   target,
		Method:   method,
		Issued:   issued,
		Deadline: issued.Add(timeout),
		done:     make(chan struct{}),
	}
}

// complete stores the result if none has been stored yet and reports
// whether this call won.
func (t *Transaction) complete(resp *krpc.Message, err error) bool {
	won := false
	t.once.Do(func() {
		t.resp = resp
		t.err = err
		close(t.done)
		won = true
	})
	return won
}

// Done is closed once the transaction has completed.
func (t *Transaction) Done() <-chan struct{} {
	return t.done
}

// Result returns the completion value. It must only be called after Done
// is closed.
func (t *Transaction) Result() (*krpc.Message, error) {
	return t.resp, t.err
}

// transactionManager matches responses to outstanding queries.
type transactionManager struct {
	mu        sync.Mutex
	pending   map[string]*Transaction
	transport transport.Transport
	clock     clock.Clock
	metrics   *metrics

	// onComplete, when set, sees every response, error reply and timeout
	// before the waiting caller does, whether or not anyone still waits.
	onComplete func(tx *Transaction, resp *krpc.Message, err error)
}

func newTransactionManager(tr transport.Transport, clk clock.Clock, m *metrics) *transactionManager {
	return &transactionManager{
		pending:   make(map[string]*Transaction),
		transport: tr,
		clock:     clk,
		metrics:   m,
	}
}

// Send assigns msg a fresh transaction ID, registers it and transmits it
// to target. A failed transmission completes the returned transaction
// with a *TransportError.
func (tm *transactionManager) Send(target krpc.NodeInfo, msg *krpc.Message, timeout time.Duration) (*Transaction, error) {
	tm.mu.Lock()
	id, err := tm.allocateIDLocked()
	if err != nil {
		tm.mu.Unlock()
		return nil, err
	}
	msg.T = id
	data, err := krpc.Marshal(msg)
	if err != nil {
		tm.mu.Unlock()
		return nil, err
	}
	tx := newTransaction(id, target, msg.Q, tm.clock.Now(), timeout)
	tm.pending[id] = tx
	tm.mu.Unlock()

	tm.metrics.queriesSent.WithLabelValues(msg.Q).Inc()

	if err := tm.transport.Send(data, target.Addr); err != nil {
		tm.remove(id)
		tx.complete(nil, &TransportError{Op: "send", Addr: target.Addr, Err: err})

		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"method":   msg.Q,
			"addr":     target.Addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send query")
	}
	return tx, nil
}

func (tm *transactionManager) allocateIDLocked() (string, error) {
	var raw [krpc.TransactionIDSize]byte
	for i := 0; i < maxTransactionIDAttempts; i++ {
		if err := crypto.ReadRandom(raw[:]); err != nil {
			return "", err
		}
		id := string(raw[:])
		if _, taken := tm.pending[id]; !taken {
			return id, nil
		}
	}
	return "", ErrTransactionsExhausted
}

func (tm *transactionManager) remove(id string) {
	tm.mu.Lock()
	delete(tm.pending, id)
	tm.mu.Unlock()
}

// Handle completes the transaction a response or error belongs to. It
// returns false when msg matches no pending transaction from that
// address.
func (tm *transactionManager) Handle(msg *krpc.Message, from netip.AddrPort) bool {
	tm.mu.Lock()
	tx, ok := tm.pending[msg.T]
	if !ok || tx.Target.Addr != from {
		tm.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Handle",
			"from":     from.String(),
			"known":    ok,
		}).Debug("Dropping reply for unknown transaction")
		tm.metrics.dropped.WithLabelValues("unknown_transaction").Inc()
		return false
	}
	delete(tm.pending, msg.T)
	tm.mu.Unlock()

	var err error
	switch {
	case msg.IsError():
		kerr, decodeErr := msg.ErrorValue()
		if decodeErr != nil {
			err = &ProtocolError{Addr: from, Code: krpc.ErrorGeneric, Message: decodeErr.Error()}
		} else {
			err = &ProtocolError{Addr: from, Code: kerr.Code, Message: kerr.Message}
		}
		tm.metrics.protocolErrors.Inc()
	case !tx.Target.ID.IsZero():
		if sender, _ := msg.SenderID(); sender != tx.Target.ID {
			err = fmt.Errorf("%w: expected %s, got %s", ErrNodeIDMismatch, tx.Target.ID, sender)
		}
	}
	if err == nil {
		tm.metrics.responses.Inc()
	}
	tm.observe(tx, msg, err)
	tx.complete(msg, err)
	return true
}

// Sweep completes every transaction past its deadline with ErrTimeout
// and returns how many expired.
func (tm *transactionManager) Sweep() int {
	now := tm.clock.Now()

	tm.mu.Lock()
	var expired []*Transaction
	for id, tx := range tm.pending {
		if !now.Before(tx.Deadline) {
			expired = append(expired, tx)
			delete(tm.pending, id)
		}
	}
	tm.mu.Unlock()

	for _, tx := range expired {
		tm.observe(tx, nil, ErrTimeout)
		tx.complete(nil, ErrTimeout)
	}
	if len(expired) > 0 {
		tm.metrics.timeouts.Add(float64(len(expired)))
		logrus.WithFields(logrus.Fields{
			"function": "Sweep",
			"expired":  len(expired),
		}).Trace("Transactions timed out")
	}
	return len(expired)
}

func (tm *transactionManager) observe(tx *Transaction, resp *krpc.Message, err error) {
	if tm.onComplete != nil {
		tm.onComplete(tx, resp, err)
	}
}

// CancelAll completes every pending transaction with err.
func (tm *transactionManager) CancelAll(err error) {
	tm.mu.Lock()
	pending := tm.pending
	tm.pending = make(map[string]*Transaction)
	tm.mu.Unlock()

	for _, tx := range pending {
		tx.complete(nil, err)
	}
}

// Pending returns the number of outstanding transactions.
func (tm *transactionManager) Pending() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}

// isNodeFailure reports whether a query error says something about the
// remote node, as opposed to our own cancellation or shutdown.
func isNodeFailure(err error) bool {
	var protoErr *ProtocolError
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNodeIDMismatch) || errors.As(err, &protoErr)
}
