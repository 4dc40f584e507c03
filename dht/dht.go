package dht

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/mainline/addrsrc"
	"github.com/opd-ai/mainline/crypto"
	"github.com/opd-ai/mainline/krpc"
	"github.com/opd-ai/mainline/nodeid"
	"github.com/opd-ai/mainline/shutdown"
	"github.com/opd-ai/mainline/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

// Resolver looks up router host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Options configures a DHT at construction time.
type Options struct {
	// ListenAddr is bound with UDP when Transport is nil.
	ListenAddr string
	// Transport replaces the UDP socket, e.g. with a simnet endpoint.
	Transport transport.Transport
	// ID is the local node ID; zero draws a random one.
	ID nodeid.ID
	// IPSource receives BEP 42 votes; nil uses a quorum-2 consensus.
	IPSource addrsrc.IPv4Source
	// Storage builds the routing table; nil uses BucketStorageFactory.
	Storage StorageFactory
	// Clock drives node and token timestamps; nil uses the wall clock.
	Clock clock.Clock
	// Registerer receives the node's metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	// Resolver resolves router host names; nil uses net.DefaultResolver.
	Resolver Resolver

	Settings Settings
}

// NewOptions returns options with default settings listening on 0.0.0.0:6881.
func NewOptions() *Options {
	return &Options{
		ListenAddr: "0.0.0.0:6881",
		Settings:   DefaultSettings(),
	}
}

// DHT is a Mainline DHT node.
type DHT struct {
	id          nodeid.ID
	settings    Settings
	transport   transport.Transport
	coordinator *shutdown.Coordinator
	storage     NodeStorage
	ipSource    addrsrc.IPv4Source
	tokens      *crypto.TokenSecrets
	peers       *peerStore
	txns        *transactionManager
	limiter     *rate.Limiter
	metrics     *metrics
	clock       clock.Clock
	resolver    Resolver

	routersMu sync.RWMutex
	routers   []netip.AddrPort

	running  atomic.Bool
	fatalMu  sync.Mutex
	fatalErr error
}

// New creates a DHT node. The node does nothing until Run is called.
func New(options *Options, coordinator *shutdown.Coordinator) (*DHT, error) {
	if options == nil {
		options = NewOptions()
	}
	if coordinator == nil {
		coordinator = shutdown.New()
	}

	settings := options.Settings.Clone()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	clk := options.Clock
	if clk == nil {
		clk = clock.New()
	}
	id := options.ID
	if id.IsZero() {
		id = nodeid.Random()
	}
	ipSource := options.IPSource
	if ipSource == nil {
		ipSource = addrsrc.NewConsensus(2, 10)
	}
	storageFactory := options.Storage
	if storageFactory == nil {
		storageFactory = BucketStorageFactory
	}
	resolver := options.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}

	m, err := newMetrics(options.Registerer)
	if err != nil {
		return nil, fmt.Errorf("dht: registering metrics: %w", err)
	}
	tokens, err := crypto.NewTokenSecrets(settings.TokenRotation, clk)
	if err != nil {
		return nil, err
	}
	peers, err := newPeerStore(settings.MaxTorrents, settings.MaxPeersPerTorrent, settings.PeerTTL, clk)
	if err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if settings.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), settings.RateBurst)
	}

	tr := options.Transport
	if tr == nil {
		udp, err := transport.NewUDPTransport(options.ListenAddr)
		if err != nil {
			return nil, &TransportError{Op: "listen", Err: err}
		}
		tr = udp
	}

	d := &DHT{
		id:          id,
		settings:    settings,
		transport:   tr,
		coordinator: coordinator,
		storage: storageFactory(StorageConfig{
			LocalID:     id,
			BucketSize:  settings.BucketSize,
			Freshness:   settings.NodeFreshness,
			MaxFailures: settings.MaxNodeFailures,
			Clock:       clk,
		}),
		ipSource: ipSource,
		tokens:   tokens,
		peers:    peers,
		txns:     newTransactionManager(tr, clk, m),
		limiter:  limiter,
		metrics:  m,
		clock:    clk,
		resolver: resolver,
	}
	d.txns.onComplete = d.recordCompletion

	logrus.WithFields(logrus.Fields{
		"function":   "New",
		"id":         id.String(),
		"local_addr": tr.LocalAddr().String(),
		"read_only":  settings.ReadOnly,
	}).Info("DHT node created")

	return d, nil
}

// Run bootstraps the node and serves until the coordinator signals
// shutdown. It then closes the transport and returns the first fatal
// transport error, if any.
func (d *DHT) Run() error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	ctx, cancel := d.coordinator.Context(context.Background())
	defer cancel()

	if !d.coordinator.Go(d.receiveLoop) {
		return multierr.Append(ErrShutdown, d.closeTransport())
	}
	d.coordinator.Go(d.sweepLoop)

	if err := d.bootstrap(ctx); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Run",
			"error":    err.Error(),
		}).Warn("Initial bootstrap failed, maintenance will retry")
	}

	d.coordinator.Go(d.maintenanceLoop)

	<-d.coordinator.Done()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"id":       d.id.String(),
	}).Info("DHT node shutting down")

	d.txns.CancelAll(ErrShutdown)
	return multierr.Combine(d.fatal(), d.closeTransport())
}

func (d *DHT) closeTransport() error {
	if err := d.transport.Close(); err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

func (d *DHT) setFatal(err error) {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	if d.fatalErr == nil {
		d.fatalErr = err
	}
}

func (d *DHT) fatal() error {
	d.fatalMu.Lock()
	defer d.fatalMu.Unlock()
	return d.fatalErr
}

// ID returns the local node ID.
func (d *DHT) ID() nodeid.ID {
	return d.id
}

// LocalAddr returns the transport's bound address.
func (d *DHT) LocalAddr() netip.AddrPort {
	return d.transport.LocalAddr()
}

// Settings returns a copy of the node's settings.
func (d *DHT) Settings() Settings {
	return d.settings.Clone()
}

// Storage returns the node's routing table.
func (d *DHT) Storage() NodeStorage {
	return d.storage
}

// ExternalIPv4 returns the consensus external address, if known.
func (d *DHT) ExternalIPv4() (netip.Addr, bool) {
	return d.ipSource.BestIPv4()
}

// Coordinator returns the shutdown coordinator the node runs under.
func (d *DHT) Coordinator() *shutdown.Coordinator {
	return d.coordinator
}

// query sends one KRPC query to target and waits for its completion,
// ctx or shutdown. The outcome is recorded in storage by
// recordCompletion, also when the caller stops waiting first.
func (d *DHT) query(ctx context.Context, target krpc.NodeInfo, method string, args krpc.Args) (*krpc.Message, error) {
	args.ID = d.id.RawString()
	msg := krpc.NewQuery("", method, args)
	msg.V = d.settings.ClientVersion
	if d.settings.ReadOnly {
		msg.RO = 1
	}

	if !target.ID.IsZero() {
		d.storage.MarkInteraction(target.ID, OutcomeQuerySent)
	}

	tx, err := d.txns.Send(target, msg, d.settings.QueryTimeout)
	if err != nil {
		return nil, err
	}

	select {
	case <-tx.Done():
		return tx.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.coordinator.Done():
		return nil, ErrShutdown
	}
}

// recordCompletion updates storage with what a finished transaction says
// about the remote node.
func (d *DHT) recordCompletion(tx *Transaction, resp *krpc.Message, err error) {
	if err != nil {
		if isNodeFailure(err) && !tx.Target.ID.IsZero() {
			outcome := OutcomeTimeout
			if !errors.Is(err, ErrTimeout) {
				outcome = OutcomeError
			}
			d.storage.MarkInteraction(tx.Target.ID, outcome)
		}
		return
	}

	if sender, ok := resp.SenderID(); ok {
		d.storage.AddOrUpdate(krpc.NewNodeInfo(sender, tx.Target.Addr), true)
	}
	d.recordIPVote(resp, tx.Target.Addr)
}

// recordIPVote feeds the BEP 42 "ip" key of a response into the IP source.
func (d *DHT) recordIPVote(resp *krpc.Message, from netip.AddrPort) {
	if resp.IP == "" {
		return
	}
	seen, err := krpc.DecodeCompactAddr(resp.IP)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "recordIPVote",
			"from":     from.String(),
			"error":    err.Error(),
		}).Debug("Ignoring malformed ip field")
		return
	}
	d.ipSource.AddVote(from, seen.Addr())
}
