package observe

import (
	"sync"
	"time"

	errspkg "github.com/drblury/otlpflow/internal/runtime/errors"
	"github.com/drblury/otlpflow/internal/runtime/processor"
	"github.com/drblury/otlpflow/internal/runtime/signal"
)

// SignalStats is the stats document of one signal kind.
type SignalStats struct {
	Signal         string    `json:"signal"`
	Path           string    `json:"path"`
	Accepted       uint64    `json:"accepted"`
	Rejected       uint64    `json:"rejected"`
	Resources      uint64    `json:"resources_received"`
	Items          uint64    `json:"items_received"`
	BytesReceived  uint64    `json:"bytes_received"`
	LastAcceptedAt time.Time `json:"last_accepted_at"`

	Latency    LatencyMetrics     `json:"latency"`
	Throughput ThroughputMetrics  `json:"throughput"`
	Rejections RejectionBreakdown `json:"rejections"`
	Backlog    BacklogMetrics     `json:"backlog"`
}

// RejectionBreakdown counts rejected requests per error kind.
type RejectionBreakdown struct {
	ByKind    map[string]uint64 `json:"by_kind"`
	LastError string            `json:"last_error,omitempty"`
}

// Record adds err under its kind.
func (r *RejectionBreakdown) Record(err error) {
	if err == nil {
		return
	}
	if r.ByKind == nil {
		r.ByKind = make(map[string]uint64)
	}
	r.ByKind[errspkg.KindOf(err).String()]++
	r.LastError = err.Error()
}

// BacklogMetrics reports in-flight requests and the fan-out queues.
type BacklogMetrics struct {
	InFlight    uint64 `json:"in_flight"`
	MaxInFlight uint64 `json:"max_in_flight"`
	Subscribers int    `json:"subscribers"`
	Pending     int    `json:"pending"`
}

// Snapshot is the document served by the stats API.
type Snapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Signals     []SignalStats `json:"signals"`
	Resource    ResourceUsage `json:"resource"`
}

// BacklogProbe reports the subscriber count and queued batches of a signal.
type BacklogProbe func() (subscribers, pending int)

type signalState struct {
	stats      SignalStats
	latency    *latencyWindow
	throughput *throughputWindow
	totalTime  int64
	probe      BacklogProbe
}

// Stats aggregates request outcomes per signal. The zero value is not usable;
// call NewStats.
type Stats struct {
	mu        sync.Mutex
	signals   map[signal.Kind]*signalState
	resources *resourceTracker
	now       func() time.Time
}

// NewStats creates empty stats for every signal kind.
func NewStats() *Stats {
	s := &Stats{
		signals:   make(map[signal.Kind]*signalState, len(signal.Kinds())),
		resources: newResourceTracker(),
		now:       time.Now,
	}
	for _, kind := range signal.Kinds() {
		s.signals[kind] = &signalState{
			stats: SignalStats{
				Signal:     kind.String(),
				Path:       kind.Path(),
				Rejections: RejectionBreakdown{ByKind: make(map[string]uint64)},
			},
			latency:    newLatencyWindow(latencySampleSize),
			throughput: newThroughputWindow(throughputWindowSize),
		}
	}
	return s
}

// SetBacklogProbe attaches a fan-out introspection function to kind.
func (s *Stats) SetBacklogProbe(kind signal.Kind, probe BacklogProbe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.signals[kind]; ok {
		st.probe = probe
	}
}

// Hooks returns hooks feeding s.
func (s *Stats) Hooks() Hooks {
	return Hooks{
		OnRequestStart: func(info RequestInfo) {
			s.onStart(info)
		},
		OnAccepted: func(info RequestInfo, summary processor.Summary) {
			s.onFinish(info, &summary, nil)
		},
		OnRejected: func(info RequestInfo, err error) {
			s.onFinish(info, nil, err)
		},
	}
}

func (s *Stats) onStart(info RequestInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.signals[info.Kind]
	if !ok {
		return
	}
	b := &st.stats.Backlog
	b.InFlight++
	if b.InFlight > b.MaxInFlight {
		b.MaxInFlight = b.InFlight
	}
	st.stats.BytesReceived += uint64(max(info.BodySize, 0))
}

func (s *Stats) onFinish(info RequestInfo, summary *processor.Summary, err error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.signals[info.Kind]
	if !ok {
		return
	}
	if st.stats.Backlog.InFlight > 0 {
		st.stats.Backlog.InFlight--
	}

	if err != nil {
		st.stats.Rejected++
		st.stats.Rejections.Record(err)
	} else {
		st.stats.Accepted++
		st.stats.LastAcceptedAt = now.UTC()
		if summary != nil {
			st.stats.Resources += uint64(summary.ResourceGroups)
			st.stats.Items += uint64(summary.Items)
		}
	}

	st.totalTime += int64(info.Duration)
	st.latency.Add(info.Duration)
	st.throughput.Add(now)
}

// Signal returns a copy of the stats of kind.
func (s *Stats) Signal(kind signal.Kind) SignalStats {
	s.mu.Lock()
	st, ok := s.signals[kind]
	if !ok {
		s.mu.Unlock()
		return SignalStats{Signal: kind.String()}
	}
	out, probe := s.snapshotLocked(st)
	s.mu.Unlock()

	if probe != nil {
		out.Backlog.Subscribers, out.Backlog.Pending = probe()
	}
	return out
}

// Snapshot returns the full stats document.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{GeneratedAt: s.now().UTC()}
	for _, kind := range signal.Kinds() {
		snap.Signals = append(snap.Signals, s.Signal(kind))
	}
	snap.Resource = s.resources.Snapshot()
	return snap
}

func (s *Stats) snapshotLocked(st *signalState) (SignalStats, BacklogProbe) {
	out := st.stats
	out.Rejections.ByKind = make(map[string]uint64, len(st.stats.Rejections.ByKind))
	for k, v := range st.stats.Rejections.ByKind {
		out.Rejections.ByKind[k] = v
	}

	out.Latency = st.latency.Snapshot()
	total := st.stats.Accepted + st.stats.Rejected
	if total > 0 {
		out.Latency.AverageNs = st.totalTime / int64(total)
	}

	tp := st.throughput.Snapshot(s.now())
	out.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		RequestsInWindow: uint64(tp.Count),
		TotalRequests:    total,
	}
	return out, st.probe
}
