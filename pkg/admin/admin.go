// Package admin implements the daemon's local control surface of spec
// §4.9: a hierarchy status snapshot, Prometheus metrics, and a liveness
// check. Adapted from the teacher's pkg/admin, which served /metrics and
// pprof behind a bare http.Handler; this version routes through
// julienschmidt/httprouter (the teacher's cni-plugin/proxyscheduler/server
// dependency) so /status can carry a path-free JSON body without the
// switch-on-URL.Path style the teacher used for a two-route handler.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

// StatusProvider is the subset of *factory.Factory the admin surface
// needs. Declared here, rather than importing factory, to keep this
// package a leaf the daemon wires in rather than a dependency of the
// scheduling fabric.
type StatusProvider interface {
	BindAddr() netaddr.Address
	HierarchySnapshot() (principal netaddr.Address, subordinates []netaddr.Address, enabled bool)
	CPUQueueDepth() int
	CPUDispatched() uint64
	TimerPending() int
	SocketPeers() int
	SocketBytes() (sent, received uint64)
}

// statusResponse is the JSON body of GET /status.
type statusResponse struct {
	Bind          string   `json:"bind"`
	DiscoveryOn   bool     `json:"discovery_enabled"`
	Principal     string   `json:"principal,omitempty"`
	Subordinates  []string `json:"subordinates"`
	CPUQueueDepth int      `json:"cpu_queue_depth"`
	Dispatched    uint64   `json:"kernels_dispatched"`
	TimerPending  int      `json:"timer_pending"`
	SocketPeers   int      `json:"socket_peers"`
	BytesSent     uint64   `json:"bytes_sent"`
	BytesReceived uint64   `json:"bytes_received"`
}

// Metrics holds the Prometheus collectors registered for the pipelines,
// grounded on the repo-wide prometheus/client_golang dependency.
type Metrics struct {
	cpuQueueDepth   prometheus.GaugeFunc
	kernelsTotal    prometheus.CounterFunc
	timerPending    prometheus.GaugeFunc
	socketPeers     prometheus.GaugeFunc
	bytesSentTotal  prometheus.CounterFunc
	bytesRecvdTotal prometheus.CounterFunc
}

// NewMetrics builds and registers the gauge/counter funcs that sample p on
// every scrape, into registry (pass prometheus.NewRegistry() for test
// isolation, or prometheus.DefaultRegisterer in production).
func NewMetrics(p StatusProvider, registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		cpuQueueDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bscheduler_cpu_queue_depth",
			Help: "Number of kernels currently queued on the CPU pipeline.",
		}, func() float64 { return float64(p.CPUQueueDepth()) }),
		kernelsTotal: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bscheduler_kernels_dispatched_total",
			Help: "Total number of kernels dispatched by the CPU pipeline.",
		}, func() float64 { return float64(p.CPUDispatched()) }),
		timerPending: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bscheduler_timer_pending",
			Help: "Number of kernels waiting on the timer pipeline's heap.",
		}, func() float64 { return float64(p.TimerPending()) }),
		socketPeers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bscheduler_socket_peers",
			Help: "Number of currently connected peer handlers.",
		}, func() float64 { return float64(p.SocketPeers()) }),
		bytesSentTotal: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bscheduler_socket_bytes_sent_total",
			Help: "Total bytes written to peer connections.",
		}, func() float64 { sent, _ := p.SocketBytes(); return float64(sent) }),
		bytesRecvdTotal: prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "bscheduler_socket_bytes_received_total",
			Help: "Total bytes read from peer connections.",
		}, func() float64 { _, recv := p.SocketBytes(); return float64(recv) }),
	}
	registry.MustRegister(
		m.cpuQueueDepth, m.kernelsTotal, m.timerPending,
		m.socketPeers, m.bytesSentTotal, m.bytesRecvdTotal,
	)
	return m
}

// NewServer returns an initialized *http.Server exposing /status, /metrics
// and /healthz on addr. gatherer is typically prometheus.DefaultGatherer.
func NewServer(addr string, p StatusProvider, gatherer prometheus.Gatherer) *http.Server {
	router := httprouter.New()
	router.GET("/status", statusHandler(p))
	router.GET("/healthz", healthzHandler)
	router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
	}
}

func statusHandler(p StatusProvider) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		principal, subs, enabled := p.HierarchySnapshot()
		subStrs := make([]string, 0, len(subs))
		for _, s := range subs {
			subStrs = append(subStrs, s.String())
		}
		sent, recv := p.SocketBytes()

		resp := statusResponse{
			Bind:          p.BindAddr().String(),
			DiscoveryOn:   enabled,
			Subordinates:  subStrs,
			CPUQueueDepth: p.CPUQueueDepth(),
			Dispatched:    p.CPUDispatched(),
			TimerPending:  p.TimerPending(),
			SocketPeers:   p.SocketPeers(),
			BytesSent:     sent,
			BytesReceived: recv,
		}
		if enabled && !principal.Empty() {
			resp.Principal = principal.String()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func healthzHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Write([]byte("ok\n"))
}
