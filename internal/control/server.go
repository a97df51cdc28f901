// Package control implements the on-demand report socket (spec.md §6:
// "Reports are served on demand by the Report Generator"), adapted from
// the teacher's internal/operator override socket — same newline-delimited
// JSON Unix-socket shape, repurposed from PID pin/reset commands to the
// single "report" operation this system needs.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sentrymon/sentrymon/internal/report"
)

const (
	maxConcurrentConns = 4
	maxRequestBytes    = 4096
	connTimeout        = 10 * time.Second
)

// ReportGenerator is the interface the control server calls into.
// Implemented by *report.Generator.
type ReportGenerator interface {
	Generate(timeframe report.Timeframe, format report.Format, includeDetails bool, now time.Time) report.Report
}

// Request is the JSON structure for control-socket commands.
type Request struct {
	Cmd            string `json:"cmd"`
	Timeframe      string `json:"timeframe,omitempty"`
	Format         string `json:"format,omitempty"`
	IncludeDetails bool   `json:"include_details,omitempty"`
}

// Response is the JSON structure for control-socket responses.
type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Report json.RawMessage `json:"report,omitempty"`
}

// Server is the control Unix-domain-socket server.
type Server struct {
	socketPath string
	generator  ReportGenerator
	log        *zap.Logger
	sem        chan struct{}
}

// NewServer creates a control Server bound to socketPath.
func NewServer(socketPath string, generator ReportGenerator, log *zap.Logger) *Server {
	return &Server{
		socketPath: socketPath,
		generator:  generator,
		log:        log,
		sem:        make(chan struct{}, maxConcurrentConns),
	}
}

// ListenAndServe binds the Unix socket (0600, root-owned) and serves
// requests until ctx is cancelled. Removes any stale socket file first.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("control: remove stale socket %q: %w", s.socketPath, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("control: mkdir %q: %w", filepath.Dir(s.socketPath), err)
	}

	lis, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("control: listen %q: %w", s.socketPath, err)
	}
	defer lis.Close()

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("control: chmod %q: %w", s.socketPath, err)
	}

	s.log.Info("control socket listening", zap.String("path", s.socketPath))

	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				s.log.Error("control: accept error", zap.Error(err))
				continue
			}
		}

		select {
		case s.sem <- struct{}{}:
		default:
			s.log.Warn("control: max connections reached, rejecting")
			_ = conn.Close()
			continue
		}

		go func(c net.Conn) {
			defer func() { <-s.sem }()
			defer c.Close()
			s.handleConn(c)
		}(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))

	buf := make([]byte, maxRequestBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		s.log.Warn("control: read error", zap.Error(err))
		return
	}

	var req Request
	if err := json.Unmarshal(buf[:n], &req); err != nil {
		s.writeResponse(conn, Response{OK: false, Error: "invalid JSON: " + err.Error()})
		return
	}

	s.writeResponse(conn, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Cmd {
	case "report":
		return s.cmdReport(req)
	default:
		return Response{OK: false, Error: fmt.Sprintf("unknown command %q", req.Cmd)}
	}
}

func (s *Server) cmdReport(req Request) Response {
	format := report.Format(req.Format)
	rpt := s.generator.Generate(report.Timeframe(req.Timeframe), format, req.IncludeDetails, time.Now())
	body, err := report.Render(format, rpt)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	encoded, err := json.Marshal(string(body))
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}
	return Response{OK: true, Report: json.RawMessage(encoded)}
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
