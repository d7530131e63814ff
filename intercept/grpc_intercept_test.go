/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package intercept

import (
	"bytes"
	"context"
	"strings"
	"testing"

	bg "github.com/SSSOCPaulCote/blunderguard"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const errTest = bg.Error("handler failed")

// TestUnaryCallLogger tests that failed calls are logged with their method and successful ones are not
func TestUnaryCallLogger(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)
	interceptor := NewGrpcInterceptor(&log)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	_, err := interceptor.unaryCallLogger(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return nil, errTest
	})
	if err != errTest {
		t.Errorf("Expected handler error, received %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"method":"/grpc.health.v1.Health/Check"`) || !strings.Contains(out, "handler failed") {
		t.Errorf("Unexpected log output: %s", out)
	}
	buf.Reset()
	resp, err := interceptor.unaryCallLogger(context.Background(), nil, info, func(context.Context, interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil || resp != "ok" {
		t.Errorf("Unexpected result: %v %v", resp, err)
	}
	if buf.Len() != 0 {
		t.Errorf("Successful call logged above trace level: %s", buf.String())
	}
}

// TestRecoverPanic tests that a panicking handler is reported as an internal error
func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	err := NewGrpcInterceptor(&log).recoverPanic("boom")
	if status.Code(err) != codes.Internal {
		t.Errorf("Expected Internal, received %v", status.Code(err))
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("Panic not logged: %s", buf.String())
	}
}

// TestCreateGrpcOptions tests that both chains are produced
func TestCreateGrpcOptions(t *testing.T) {
	if opts := NewGrpcInterceptor(nil).CreateGrpcOptions(); len(opts) != 2 {
		t.Errorf("Expected 2 server options, received %d", len(opts))
	}
}
