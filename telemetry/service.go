/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package telemetry mirrors numeric instrument readings into InfluxDB
package telemetry

import (
	"context"
	"crypto/tls"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	influx "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// TelemetryService writes points to an InfluxDB bucket without blocking the data path
type TelemetryService struct {
	Running  int32 // used atomically
	Logger   *zerolog.Logger
	QuitChan chan struct{}
	org      string
	bucket   string
	idb      influx.Client
	writer   api.WriteAPI
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewTelemetryService creates a TelemetryService for the given server and bucket
func NewTelemetryService(logger *zerolog.Logger, influxUrl, influxToken, org, bucket string) *TelemetryService {
	client := influx.NewClientWithOptions(influxUrl, influxToken, influx.DefaultOptions().SetTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	return &TelemetryService{
		Logger:   logger,
		QuitChan: make(chan struct{}),
		org:      org,
		bucket:   bucket,
		idb:      client,
	}
}

// Start starts the service. Returns an error if any issues occur
func (s *TelemetryService) Start() error {
	s.Logger.Info().Msg("Starting Telemetry Service...")
	if ok := atomic.CompareAndSwapInt32(&s.Running, 0, 1); !ok {
		return errors.ErrServiceAlreadyStarted
	}
	s.mu.Lock()
	s.writer = s.idb.WriteAPI(s.org, s.bucket)
	s.mu.Unlock()
	errChan := s.writer.Errors()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case err := <-errChan:
				s.Logger.Error().Msgf("Could not write to influxdb: %v", err)
			case <-s.QuitChan:
				return
			}
		}
	}()
	s.Logger.Info().Msg("Telemetry Service started.")
	return nil
}

// Stop flushes pending points and stops the service
func (s *TelemetryService) Stop() error {
	s.Logger.Info().Msg("Stopping Telemetry Service...")
	if ok := atomic.CompareAndSwapInt32(&s.Running, 1, 0); !ok {
		return errors.ErrServiceAlreadyStopped
	}
	s.mu.Lock()
	s.writer.Flush()
	s.writer = nil
	s.mu.Unlock()
	close(s.QuitChan)
	s.wg.Wait()
	s.idb.Close()
	s.Logger.Info().Msg("Telemetry Service stopped.")
	return nil
}

// Mirror queues one point. Points are dropped when the service is not running.
func (s *TelemetryService) Mirror(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.writer == nil {
		return
	}
	s.writer.WritePoint(influx.NewPoint(measurement, tags, fields, ts))
}

// EnsureBucket creates the bucket in the organization if it does not exist yet
func (s *TelemetryService) EnsureBucket(ctx context.Context) error {
	org, err := s.idb.OrganizationsAPI().FindOrganizationByName(ctx, s.org)
	if err != nil {
		return e.Wrapf(err, "could not find organization %s", s.org)
	}
	bucketAPI := s.idb.BucketsAPI()
	buckets, err := bucketAPI.FindBucketsByOrgName(ctx, s.org)
	if err != nil {
		return e.Wrap(err, "could not list buckets")
	}
	for _, bucket := range *buckets {
		if bucket.Name == s.bucket {
			return nil
		}
	}
	if _, err := bucketAPI.CreateBucketWithName(ctx, org, s.bucket, domain.RetentionRule{EverySeconds: 0}); err != nil {
		return e.Wrapf(err, "could not create bucket %s", s.bucket)
	}
	s.Logger.Info().Msgf("Created influxdb bucket %s", s.bucket)
	return nil
}
