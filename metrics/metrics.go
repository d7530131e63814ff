/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package metrics exposes daemon counters to Prometheus
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/router"
	"github.com/SSSOC-CAN/bdlog/source"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "bdlog"

// Metrics holds the collectors of one daemon
type Metrics struct {
	registry    *prometheus.Registry
	sentences   *prometheus.CounterVec
	commands    prometheus.Counter
	sourceState prometheus.Gauge
	reconnects  prometheus.Counter
}

// New creates the collectors labelled with the daemon name
func New(daemon string) *Metrics {
	labels := prometheus.Labels{"daemon": daemon}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sentences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "sentences_total",
			Help:        "Sentences dispatched by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		commands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "commands_total",
			Help:        "Command sentences accepted",
			ConstLabels: labels,
		}),
		sourceState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "source_state",
			Help:        "Source lifecycle state (0 absent, 1 connecting, 2 connected, 3 lost)",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "source_connects_total",
			Help:        "Times the source reached the connected state",
			ConstLabels: labels,
		}),
	}
	m.registry.MustRegister(m.sentences, m.commands, m.sourceState, m.reconnects)
	return m
}

// Registry returns the registry holding every collector
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSentence counts a data sentence outcome. It satisfies router.Observer.
func (m *Metrics) ObserveSentence(o router.Outcome, _ string) {
	m.sentences.WithLabelValues(o.String()).Inc()
}

// ObserveCommand counts a command sentence outcome. It satisfies router.Observer.
func (m *Metrics) ObserveCommand(o router.Outcome, token string) {
	if o == router.Accepted {
		m.commands.Inc()
	}
	m.ObserveSentence(o, token)
}

// ObserveState records a source state transition
func (m *Metrics) ObserveState(s source.State) {
	m.sourceState.Set(float64(s))
	if s == source.Connected {
		m.reconnects.Inc()
	}
}

// TrackOpenResources exports the number of open output files
func (m *Metrics) TrackOpenResources(count func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "open_resources",
		Help:      "Output files currently open",
	}, func() float64 { return float64(count()) }))
}

// Server serves the registry over HTTP
type Server struct {
	Running  int32 // used atomically
	port     int
	metrics  *Metrics
	server   *http.Server
	listener net.Listener
	logger   *zerolog.Logger
	wg       sync.WaitGroup
}

// NewServer creates a metrics server on port
func NewServer(port int, m *Metrics, logger *zerolog.Logger) *Server {
	return &Server{port: port, metrics: m, logger: logger}
}

// Start listens and serves /metrics in the background
func (s *Server) Start() error {
	if ok := atomic.CompareAndSwapInt32(&s.Running, 0, 1); !ok {
		return errors.ErrServiceAlreadyStarted
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		atomic.StoreInt32(&s.Running, 0)
		return fmt.Errorf("could not listen on port %d: %v", s.port, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	s.listener = lis
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Msgf("Metrics server stopped: %v", err)
		}
	}()
	s.logger.Info().Msgf("Metrics available at http://%v/metrics", lis.Addr())
	return nil
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop shuts the HTTP server down
func (s *Server) Stop() error {
	if ok := atomic.CompareAndSwapInt32(&s.Running, 1, 0); !ok {
		return errors.ErrServiceAlreadyStopped
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}
