package dht

import (
	"fmt"
	"time"
)

// Settings tunes the protocol behaviour of a DHT node. A copy is taken
// when the node is created; later changes to the caller's value have no
// effect.
type Settings struct {
	// ReadOnly nodes never answer queries, flag their own queries with
	// ro=1 and refuse to announce.
	ReadOnly bool

	// BucketSize is K, the capacity of each routing table bucket.
	BucketSize int
	// Alpha is the number of concurrent queries per lookup round.
	Alpha int
	// ShortlistWidth caps the candidates a lookup keeps.
	ShortlistWidth int

	QueryTimeout  time.Duration
	LookupTimeout time.Duration
	SweepInterval time.Duration

	MaintenanceInterval time.Duration
	// RefreshInterval is how long a bucket may go unchanged before it is
	// refreshed with a lookup.
	RefreshInterval time.Duration
	// NodeFreshness is how recent activity must be for a node to count
	// as good.
	NodeFreshness time.Duration
	// MaxNodeFailures consecutive failures make a node bad.
	MaxNodeFailures int
	// PingInterval is the minimum gap between pings to a questionable node.
	PingInterval time.Duration
	// PruneAfter is how long a node stays bad before it is removed.
	PruneAfter time.Duration

	TokenRotation      time.Duration
	PeerTTL            time.Duration
	MaxTorrents        int
	MaxPeersPerTorrent int
	MaxPeersResponse   int

	IPDecayInterval time.Duration

	// RateLimit is the inbound datagram rate per second; zero or less
	// disables limiting.
	RateLimit float64
	RateBurst int

	// Routers are "host:port" bootstrap routers.
	Routers []string
	// ClientVersion is sent in the "v" key of outgoing queries.
	ClientVersion string
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		ReadOnly:            false,
		BucketSize:          8,
		Alpha:               3,
		ShortlistWidth:      16,
		QueryTimeout:        3 * time.Second,
		LookupTimeout:       30 * time.Second,
		SweepInterval:       500 * time.Millisecond,
		MaintenanceInterval: 10 * time.Second,
		RefreshInterval:     15 * time.Minute,
		NodeFreshness:       15 * time.Minute,
		MaxNodeFailures:     2,
		PingInterval:        time.Minute,
		PruneAfter:          time.Hour,
		TokenRotation:       5 * time.Minute,
		PeerTTL:             30 * time.Minute,
		MaxTorrents:         1000,
		MaxPeersPerTorrent:  500,
		MaxPeersResponse:    50,
		IPDecayInterval:     5 * time.Minute,
		RateLimit:           500,
		RateBurst:           100,
		Routers: []string{
			"router.bittorrent.com:6881",
			"router.utorrent.com:6881",
			"dht.transmissionbt.com:6881",
		},
		ClientVersion: "MG01",
	}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	s.Routers = append([]string(nil), s.Routers...)
	return s
}

// Validate checks that every field holds a usable value.
func (s Settings) Validate() error {
	positiveInts := []struct {
		name  string
		value int
	}{
		{"bucket size", s.BucketSize},
		{"alpha", s.Alpha},
		{"shortlist width", s.ShortlistWidth},
		{"max node failures", s.MaxNodeFailures},
		{"max torrents", s.MaxTorrents},
		{"max peers per torrent", s.MaxPeersPerTorrent},
		{"max peers per response", s.MaxPeersResponse},
	}
	for _, f := range positiveInts {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidSettings, f.name, f.value)
		}
	}

	positiveDurations := []struct {
		name  string
		value time.Duration
	}{
		{"query timeout", s.QueryTimeout},
		{"lookup timeout", s.LookupTimeout},
		{"sweep interval", s.SweepInterval},
		{"maintenance interval", s.MaintenanceInterval},
		{"refresh interval", s.RefreshInterval},
		{"node freshness", s.NodeFreshness},
		{"ping interval", s.PingInterval},
		{"prune after", s.PruneAfter},
		{"token rotation", s.TokenRotation},
		{"peer ttl", s.PeerTTL},
		{"ip decay interval", s.IPDecayInterval},
	}
	for _, f := range positiveDurations {
		if f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidSettings, f.name, f.value)
		}
	}

	if s.RateLimit > 0 && s.RateBurst <= 0 {
		return fmt.Errorf("%w: rate burst must be positive when rate limiting", ErrInvalidSettings)
	}
	if s.ShortlistWidth < s.BucketSize {
		return fmt.Errorf("%w: shortlist width %d is smaller than bucket size %d", ErrInvalidSettings, s.ShortlistWidth, s.BucketSize)
	}
	return nil
}
