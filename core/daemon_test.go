package core

import (
	"bufio"
	"context"
	"io/ioutil"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SSSOC-CAN/bdlog/checksum"
	"github.com/SSSOC-CAN/bdlog/command"
	"github.com/SSSOC-CAN/bdlog/errors"
	"github.com/SSSOC-CAN/bdlog/intercept"
	"github.com/SSSOC-CAN/bdlog/output"
	"github.com/SSSOC-CAN/bdlog/sentence"
	"github.com/SSSOC-CAN/bdlog/source"
	"github.com/coreos/go-systemd/v22/daemon"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type fakeNotifier struct {
	mu     sync.Mutex
	states []string
}

func (n *fakeNotifier) Notify(state string) {
	n.mu.Lock()
	n.states = append(n.states, state)
	n.mu.Unlock()
}

func (n *fakeNotifier) has(state string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range n.states {
		if s == state {
			return true
		}
	}
	return false
}

type fakeActions struct{}

func (fakeActions) Reboot() error   { return nil }
func (fakeActions) Shutdown() error { return nil }

func testConfig(t *testing.T, mode Mode) *Config {
	tmpDir := t.TempDir()
	config := default_config(mode)
	config.LogFileDir = tmpDir
	config.ConsoleOutput = false
	config.DataDir = filepath.Join(tmpDir, "data")
	config.RecoveryFile = filepath.Join(tmpDir, "dataset")
	config.Identity = "ship1"
	return &config
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readOutput(d *Daemon, k output.Key) string {
	b, _ := ioutil.ReadFile(d.Output().Path(k))
	return string(b)
}

func mustBuild(t *testing.T, token string, fields ...string) string {
	raw, err := command.Build(token, fields...)
	if err != nil {
		t.Fatalf("Could not build command: %v", err)
	}
	return raw
}

// TestDaemonAIS runs an AIS daemon end to end over UDP with inline commands
func TestDaemonAIS(t *testing.T) {
	config := testConfig(t, ModeAIS)
	log := zerolog.New(ioutil.Discard)
	ep := &source.UDPEndpoint{Addr: "127.0.0.1:0"}
	notifier := &fakeNotifier{}
	d, err := NewDaemon(config, &log, WithEndpoint(ep), WithNotifier(notifier), WithActions(fakeActions{}), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Could not start daemon: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()
	waitUntil(t, "socket bind", func() bool { return ep.Bound() != nil })
	client, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Could not bind client: %v", err)
	}
	defer client.Close()
	send := func(s string) {
		if _, err := client.WriteTo([]byte(s+"\r\n"), ep.Bound()); err != nil {
			t.Fatalf("Could not send %q: %v", s, err)
		}
	}

	send(mustBuild(t, command.SetDatasetToken, "cruise9"))
	waitUntil(t, "dataset change", func() bool { return d.Session().Snapshot().Dataset == "cruise9" })

	ais, _ := checksum.Generate(checksum.XOR, "!AIVDM,1,1,,B,15MwkT1P37G?fl0EJbR0OwT0@MS,0")
	day := sentence.Now().DayOfYear
	send(ais)
	send("!AIVDM,1,1,,B,corrupted,0*00")
	key := output.Key{Dataset: "cruise9", Stream: "ais", Day: day}
	waitUntil(t, "ais record", func() bool { return strings.Contains(readOutput(d, key), ais) })

	send(mustBuild(t, command.StatusToken))
	client.SetReadDeadline(time.Now().Add(5 * time.Second))
	buf := make([]byte, 512)
	n, _, err := client.ReadFrom(buf)
	if err != nil {
		t.Fatalf("No status reply: %v", err)
	}
	status, err := command.ParseStatus(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		t.Fatalf("Could not parse status reply %q: %v", buf[:n], err)
	}
	if status.Host != "ship1" || status.Dataset != "cruise9" || !status.Logging {
		t.Errorf("Unexpected status: %+v", status)
	}

	cancel()
	if err := <-errChan; err != nil {
		t.Errorf("Unexpected error from Run: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Could not stop daemon: %v", err)
	}
	if d.Output().OpenCount() != 0 {
		t.Error("Output files left open after stop")
	}
	lines := strings.Split(strings.TrimSpace(readOutput(d, key)), "\n")
	if len(lines) != 1 {
		t.Errorf("Expected exactly one ais record, found %v", lines)
	}
	b, err := ioutil.ReadFile(config.RecoveryFile)
	if err != nil || strings.TrimSpace(string(b)) != "cruise9" {
		t.Errorf("Recovery file not written: %q %v", b, err)
	}
	if !notifier.has(daemon.SdNotifyReady) || !notifier.has(daemon.SdNotifyStopping) {
		t.Errorf("Unexpected notifications: %v", notifier.states)
	}
	if st := d.data.Stats(); st.Accepted != 1 || st.BadChecksum != 1 {
		t.Errorf("Unexpected router stats: %+v", st)
	}
}

// TestDaemonTide runs a tide daemon against a fake gauge with a separate command port
func TestDaemonTide(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Could not listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
			conn.Write([]byte(" 2.345\r\n"))
		}
	}()
	probe, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Could not find a free port: %v", err)
	}
	commandPort := probe.LocalAddr().(*net.UDPAddr).Port
	probe.Close()

	config := testConfig(t, ModeTide)
	config.TideAddr = ln.Addr().String()
	config.CommandPort = int64(commandPort)
	log := zerolog.New(ioutil.Discard)
	ep := &source.PollEndpoint{Addr: config.TideAddr, Period: 50 * time.Millisecond, PollInterval: 10 * time.Millisecond}
	d, err := NewDaemon(config, &log, WithEndpoint(ep), WithNotifier(&fakeNotifier{}), WithPollInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Could not start daemon: %v", err)
	}
	defer d.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(ctx)
	}()
	key := output.Key{Dataset: "default", Stream: "tide", Day: sentence.Now().DayOfYear}
	waitUntil(t, "tide record", func() bool { return strings.Contains(readOutput(d, key), " tide 2.345") })

	client, err := net.Dial("udp", "127.0.0.1:"+strconv.Itoa(commandPort))
	if err != nil {
		t.Fatalf("Could not dial command port: %v", err)
	}
	defer client.Close()
	off := mustBuild(t, command.SetLoggingToken, "ALL", "0")
	waitUntil(t, "logging disabled", func() bool {
		client.Write([]byte(off + "\r\n"))
		time.Sleep(20 * time.Millisecond)
		return !d.Session().Snapshot().Logging
	})
	cancel()
	if err := <-errChan; err != nil {
		t.Errorf("Unexpected error from Run: %v", err)
	}
}

// TestMainSourceFailure tests that an unusable data socket ends the daemon with the source configuration status
func TestMainSourceFailure(t *testing.T) {
	taken, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Could not bind: %v", err)
	}
	defer taken.Close()
	config := testConfig(t, ModeWinch)
	config.ListenAddr = taken.LocalAddr().String()
	log := zerolog.New(ioutil.Discard)
	d, err := NewDaemon(config, &log, WithNotifier(&fakeNotifier{}))
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	interceptor, err := intercept.InitInterceptor(&log)
	if err != nil {
		t.Fatalf("Could not initialize interceptor: %v", err)
	}
	defer interceptor.RequestShutdown()
	code, err := Main(interceptor, d)
	if code != ExitSourceConfig {
		t.Errorf("Expected exit status %d, received %d", ExitSourceConfig, code)
	}
	if e.Cause(err) != errors.ErrFatalSource {
		t.Errorf("Expected fatal source error, received %v", err)
	}
	if d.Stop() == nil {
		t.Error("Main should have stopped the daemon")
	}
}

// TestNewDaemonUnknownMode tests that unknown modes are refused
func TestNewDaemonUnknownMode(t *testing.T) {
	config := testConfig(t, "fishlogd")
	log := zerolog.New(ioutil.Discard)
	if _, err := NewDaemon(config, &log); e.Cause(err) != errors.ErrSourceConfig {
		t.Errorf("Expected source config error, received %v", err)
	}
}

// TestLaneKey tests lane selection per mode
func TestLaneKey(t *testing.T) {
	log := zerolog.New(ioutil.Discard)
	winch, err := NewDaemon(testConfig(t, ModeWinch), &log)
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	for _, line := range []string{"01RD,2017,DYNACON,1,2,3,4", "02RD,2017,DYNACON,1,2,3,4"} {
		if k := winch.laneKey(line); k != "winch" {
			t.Errorf("Unexpected lane %q for %q", k, line)
		}
	}
	if k := winch.laneKey("$GPGGA,1*00"); k != unroutedLane {
		t.Errorf("Unexpected lane %q for an unhandled token", k)
	}
	ais, err := NewDaemon(testConfig(t, ModeAIS), &log)
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	for _, line := range []string{"!AIVDM,1,1,,B,x,0*00", "!AIVDO,1,1,,B,x,0*00", "!BSVDM,1,1,,B,x,0*00"} {
		if k := ais.laneKey(line); k != "ais" {
			t.Errorf("Unexpected lane %q for %q", k, line)
		}
	}
	if k := winch.laneKey("$BDCID,x*00"); k != commandLane {
		t.Errorf("Unexpected command lane %q", k)
	}
	serial, err := NewDaemon(testConfig(t, ModeSerial), &log)
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	if k := serial.laneKey("$GPGGA,1*00"); k != "nmea" {
		t.Errorf("Unexpected serial lane %q", k)
	}
	if k := serial.laneKey("$BDCID,x*00"); k != "nmea" {
		t.Errorf("Serial lines should never be treated as commands, lane %q", k)
	}
}

// TestPingOutput tests the output health probe
func TestPingOutput(t *testing.T) {
	log := zerolog.New(ioutil.Discard)
	d, err := NewDaemon(testConfig(t, ModeWinch), &log, WithNotifier(&fakeNotifier{}))
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	if err := d.pingOutput(context.Background()); err == nil {
		t.Error("Output reported healthy before start")
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Could not start daemon: %v", err)
	}
	if err := d.pingOutput(context.Background()); err != nil {
		t.Errorf("Output unhealthy after start: %v", err)
	}
	if err := d.Stop(); err != nil {
		t.Errorf("Could not stop daemon: %v", err)
	}
}

// TestSharedStreamOrder tests that sentences with different tokens but the same output file
// are written in arrival order even when their lane is backed up
func TestSharedStreamOrder(t *testing.T) {
	log := zerolog.New(ioutil.Discard)
	d, err := NewDaemon(testConfig(t, ModeWinch), &log, WithNotifier(&fakeNotifier{}))
	if err != nil {
		t.Fatalf("Could not create daemon: %v", err)
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Could not start daemon: %v", err)
	}
	release := make(chan struct{})
	d.lanes.submit("winch", func() { <-release })
	now := time.Now()
	var lines []string
	for _, id := range []string{"01", "02", "01", "03"} {
		raw, err := checksum.Generate(checksum.LCIAdditive, id+"RD,2024-03-05T12:30:15.250,DYNACON,-0000001,000000.0,-00032.6")
		if err != nil {
			t.Fatalf("Could not build winch sentence: %v", err)
		}
		lines = append(lines, raw)
		d.submit(source.Line{Text: raw, Received: now})
	}
	close(release)
	if err := d.Stop(); err != nil {
		t.Fatalf("Could not stop daemon: %v", err)
	}
	key := output.Key{Dataset: "default", Stream: "winch", Day: sentence.FromTime(now).DayOfYear}
	records := strings.Split(strings.TrimSpace(readOutput(d, key)), "\n")
	if len(records) != len(lines) {
		t.Fatalf("Expected %d records, found %d: %v", len(lines), len(records), records)
	}
	for i, id := range []string{"01", "02", "01", "03"} {
		if !strings.Contains(records[i], " winch "+id+" ") {
			t.Errorf("Record %d out of arrival order: %q", i, records[i])
		}
	}
}
