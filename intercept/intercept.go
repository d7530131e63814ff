// Package intercept defines objects and related functions to monitor requests to shutdown the application
package intercept

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/rs/zerolog"
)

var (
	started int32
)

// Interceptor is the object controlling application shutdown requests
type Interceptor struct {
	interruptChannel       chan os.Signal
	shutdownChannel        chan struct{}
	shutdownRequestChannel chan struct{}
	quit                   chan struct{}
	log                    *zerolog.Logger
}

// mainInterruptHandler listens for SIGINT (Ctrl+C) signals on the interruptChannel and shutdown requests on the
// shutdownRequestChannel.
func (interceptor *Interceptor) mainInterruptHandler() {
	defer atomic.StoreInt32(&started, 0)
	var isShutdown bool
	shutdown := func() {
		if isShutdown {
			interceptor.log.Info().Msg("Already shutting down...")
			return
		}
		isShutdown = true
		interceptor.log.Info().Msg("Shutting down...")
		close(interceptor.quit)
	}
	for {
		select {
		case signal := <-interceptor.interruptChannel:
			interceptor.log.Info().Msgf("Received %v", signal)
			shutdown()
		case <-interceptor.shutdownRequestChannel:
			interceptor.log.Info().Msg("Received shutdown request.")
			shutdown()
		case <-interceptor.quit:
			interceptor.log.Info().Msg("Gracefully shutting down.")
			close(interceptor.shutdownChannel)
			signal.Stop(interceptor.interruptChannel)
			return
		}
	}
}

// RequestShutdown initiates a graceful shutdown from the application.
func (interceptor *Interceptor) RequestShutdown() {
	select {
	case interceptor.shutdownRequestChannel <- struct{}{}:
	case <-interceptor.quit:
	}
}

// ShutdownChannel returns the channel that will be closed once the main
// interrupt handler has exited.
func (c *Interceptor) ShutdownChannel() <-chan struct{} {
	return c.shutdownChannel
}

// Context returns a context cancelled once shutdown begins
func (c *Interceptor) Context() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c.shutdownChannel
		cancel()
	}()
	return ctx
}

// InitInterceptor initializes the shutdown and interrupt interceptor. Shutdown events are
// logged to log.
func InitInterceptor(log *zerolog.Logger) (*Interceptor, error) {
	if !atomic.CompareAndSwapInt32(&started, 0, 1) {
		return nil, errors.New("Interceptor already initialized")
	}
	if log == nil {
		nop := zerolog.Nop()
		log = &nop
	}
	interceptor := &Interceptor{
		interruptChannel:       make(chan os.Signal, 1),
		shutdownChannel:        make(chan struct{}),
		shutdownRequestChannel: make(chan struct{}),
		quit:                   make(chan struct{}),
		log:                    log,
	}
	signalsToCatch := []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	}
	signal.Notify(interceptor.interruptChannel, signalsToCatch...)
	go interceptor.mainInterruptHandler()
	return interceptor, nil
}
