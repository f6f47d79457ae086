package netprofile

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/config"
)

// Class describes the quality of the link to a remote host.
type Class string

const (
	// LAN is a fast local network.
	LAN Class = "LAN"

	// VPN is a tunnel to a nearby network.
	VPN Class = "VPN"

	// WAN is a slow or distant link.
	WAN Class = "WAN"

	// Unknown is used when the host couldn't be reached.
	Unknown Class = "UNKNOWN"
)

const (
	lanThreshold = 10 * time.Millisecond
	vpnThreshold = 100 * time.Millisecond

	// DefaultParallelCopies is used for remote paths when the config doesn't
	// set the parallelism.
	DefaultParallelCopies = 4

	lanMinParallelCopies = 8
	vpnMaxParallelCopies = 4
	wanMaxParallelCopies = 2

	// DefaultProbes is the number of latency measurements per profile.
	DefaultProbes = 3

	// DefaultTimeout bounds each latency measurement.
	DefaultTimeout = 5 * time.Second

	// smbPort is probed because remote paths are network shares.
	smbPort = "445"
)

// Profile is the measured quality of the link to a remote host.
type Profile struct {
	Host string

	// Latency is the mean round trip time. It's nil if the host couldn't be
	// reached.
	Latency *time.Duration

	Class Class
}

func (p Profile) String() string {
	if p.Latency == nil {
		return fmt.Sprintf("%s (%s, unreachable)", p.Host, p.Class)
	}
	return fmt.Sprintf("%s (%s, %s)", p.Host, p.Class, p.Latency.Round(time.Microsecond))
}

// IsRemote returns whether `path` is a network share, e.g. `\\nas\backups`
// or `//nas/backups`.
func IsRemote(path string) bool {
	return Host(path) != ""
}

// Host returns the host component of a network share path. It returns the
// empty string for local paths.
func Host(path string) string {
	var rest string
	switch {
	case strings.HasPrefix(path, `\\`):
		rest = path[2:]
	case strings.HasPrefix(path, "//"):
		rest = path[2:]
	default:
		return ""
	}

	if i := strings.IndexAny(rest, `\/`); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// Classify maps a latency to a link class.
func Classify(latency time.Duration) Class {
	switch {
	case latency < lanThreshold:
		return LAN
	case latency < vpnThreshold:
		return VPN
	default:
		return WAN
	}
}

// Worse returns whichever of the two profiles describes the slower link. Nil
// profiles are ignored.
func Worse(a, b *Profile) *Profile {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case rank(b.Class) > rank(a.Class):
		return b
	default:
		return a
	}
}

func rank(class Class) int {
	switch class {
	case LAN:
		return 0
	case VPN:
		return 1
	case WAN:
		return 2
	default:
		return 3
	}
}

// ApplyProfile returns a copy of `cfg` with its parallelism tuned for the
// link described by `profile`. A nil profile means that no path is remote,
// so `cfg` is returned unchanged.
func ApplyProfile(cfg config.Config, profile *Profile) config.Config {
	if profile == nil {
		return cfg
	}

	tuned := cfg
	if tuned.ParallelCopies == 0 {
		tuned.ParallelCopies = DefaultParallelCopies
	}

	switch profile.Class {
	case LAN:
		tuned.ParallelCopies = max(tuned.ParallelCopies, lanMinParallelCopies)
	case VPN:
		tuned.ParallelCopies = min(tuned.ParallelCopies, vpnMaxParallelCopies)
	default:
		tuned.ParallelCopies = min(tuned.ParallelCopies, wanMaxParallelCopies)
	}

	// Don't alias the input's slices.
	tuned.ExcludeDirectories = append([]string(nil), cfg.ExcludeDirectories...)
	tuned.ExcludePatterns = append([]string(nil), cfg.ExcludePatterns...)
	return tuned
}

// Prober measures a single round trip to a host.
type Prober interface {
	Probe(ctx context.Context, host string) (time.Duration, error)
}

// TCPProber measures the time it takes to open a connection to the host's
// file sharing port.
type TCPProber struct {
	Port string
}

// Probe implements the Prober interface.
func (prober TCPProber) Probe(ctx context.Context, host string) (time.Duration, error) {
	port := prober.Port
	if port == "" {
		port = smbPort
	}

	var dialer net.Dialer
	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return 0, err
	}
	latency := time.Since(start)
	conn.Close()
	return latency, nil
}

// Profiler measures the links to remote paths.
type Profiler struct {
	Prober  Prober
	Probes  int
	Timeout time.Duration
}

// NewProfiler returns a Profiler that probes over TCP.
func NewProfiler() Profiler {
	return Profiler{
		Prober:  TCPProber{},
		Probes:  DefaultProbes,
		Timeout: DefaultTimeout,
	}
}

// Profile measures the link to the host of `path`. It returns nil for local
// paths. Hosts that can't be reached get the Unknown class rather than an
// error, since the sync may still succeed.
func (profiler Profiler) Profile(ctx context.Context, path string) *Profile {
	host := Host(path)
	if host == "" {
		return nil
	}

	probes := profiler.Probes
	if probes <= 0 {
		probes = DefaultProbes
	}

	timeout := profiler.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	var total time.Duration
	var successes int
	for i := 0; i < probes; i++ {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		latency, err := profiler.Prober.Probe(probeCtx, host)
		cancel()

		if err != nil {
			log.WithError(err).WithField("host", host).Debug("Latency probe failed")
			continue
		}
		total += latency
		successes++
	}

	if successes == 0 {
		return &Profile{Host: host, Class: Unknown}
	}

	mean := total / time.Duration(successes)
	return &Profile{Host: host, Latency: &mean, Class: Classify(mean)}
}
