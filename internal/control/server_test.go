package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sentrymon/sentrymon/internal/report"
)

type fakeGenerator struct{}

func (f *fakeGenerator) Generate(timeframe report.Timeframe, format report.Format, includeDetails bool, now time.Time) report.Report {
	return report.Report{Timeframe: timeframe}
}

func startTestServer(t *testing.T) (string, func()) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "control.sock")
	srv := NewServer(socketPath, &fakeGenerator{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		close(started)
		_ = srv.ListenAndServe(ctx)
	}()
	<-started
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := net.Dial("unix", socketPath); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	return socketPath, cancel
}

func TestControlServerServesReportCommand(t *testing.T) {
	socketPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	req := Request{Cmd: "report", Timeframe: "1h", Format: "json"}
	data, _ := json.Marshal(req)
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var resp Response
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.OK {
		t.Fatalf("expected ok response, got %+v", resp)
	}
}

func TestControlServerRejectsUnknownCommand(t *testing.T) {
	socketPath, cancel := startTestServer(t)
	defer cancel()

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	data, _ := json.Marshal(Request{Cmd: "bogus"})
	conn.Write(data)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp Response
	json.Unmarshal([]byte(line), &resp)
	if resp.OK {
		t.Fatal("expected an error response for an unknown command")
	}
}
