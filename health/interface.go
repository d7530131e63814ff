package health

import "context"

// Pinger is implemented by every component whose health is reported over gRPC. A nil
// error means the component is serving.
type Pinger interface {
	Ping(context.Context) error
}

// PingFunc adapts a plain function to the Pinger interface
type PingFunc func(context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}
