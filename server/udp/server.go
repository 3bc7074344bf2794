/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package udp implements the datagram-flavored producer: unlike server/tcp
// there is no per-connection Connection layer, since a datagram socket has no
// connection to speak of. create_endpoint binds one socket and builds exactly
// one protocol instance for it; that instance receives every subsequent
// packet directly and owns all dispatching.
package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/logging"
	"github.com/nabbar/aionet/sockstate"
)

const (
	ErrorAlreadyServing errcode.CodeError = iota + errcode.MinPkgServerUDP
	ErrorListen
	ErrorNotServing
)

func init() {
	errcode.RegisterIdFctMessage(ErrorAlreadyServing, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorAlreadyServing:
		return "endpoint is already bound"
	case ErrorListen:
		return "failed to bind datagram socket"
	case ErrorNotServing:
		return "endpoint is not currently bound"
	}
	return ""
}

const (
	eventStart = "start"
	eventStop  = "stop"
)

// Handler is built once per bound endpoint and receives every packet that
// arrives on it; it is responsible for all dispatching, there being no
// per-packet consumer layer for datagrams.
type Handler interface {
	DatagramReceived(data []byte, addr net.Addr)
}

// ProtocolFactory mirrors producer.ProtocolFactory's shape but is called
// exactly once per endpoint rather than once per accepted connection.
// producer is the opaque back-reference (the *Server itself), handed to the
// factory so the built Handler can write replies back through WriteTo.
type ProtocolFactory func(producer interface{}) Handler

// Server binds (or adopts) a single datagram endpoint and feeds it to one
// protocol instance for the life of the endpoint.
type Server struct {
	mu  sync.Mutex
	log logging.FuncLog
	evt *event.Handler

	network string
	address string
	factory ProtocolFactory

	conn      net.PacketConn
	handler   Handler
	startedAt time.Time
	closed    bool

	packetsTotal uint64
}

// New returns a Server bound to network/address (e.g. "udp", "udp4", "udp6")
// that will build its Handler from factory once CreateEndpoint succeeds.
func New(log logging.FuncLog, network, address string, factory ProtocolFactory) *Server {
	return &Server{
		log:     log,
		evt:     event.NewHandler(log, []string{eventStart, eventStop}, nil),
		network: network,
		address: address,
		factory: factory,
	}
}

func (s *Server) logger() logging.Logger {
	if s.log == nil {
		return logging.New()
	}
	return s.log()
}

// Events exposes the OneTime start/stop events.
func (s *Server) Events() *event.Handler {
	return s.evt
}

// CreateEndpoint binds the datagram socket, builds the single Handler for it
// via factory(s), fires start and begins reading packets in the background.
// A bind error is reported by firing start with that error; CreateEndpoint
// does not retry.
func (s *Server) CreateEndpoint(ctx context.Context) error {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrorAlreadyServing.Error()
	}
	s.mu.Unlock()

	conn, err := net.ListenPacket(s.network, s.address)
	if err != nil {
		wrapped := ErrorListen.Error(err)
		_ = s.evt.Fire(eventStart, wrapped)
		return wrapped
	}

	var h Handler
	if s.factory != nil {
		h = s.factory(s)
	}

	s.mu.Lock()
	s.conn = conn
	s.handler = h
	s.startedAt = time.Now()
	s.mu.Unlock()

	_ = s.evt.Fire(eventStart, nil)

	go s.readLoop(ctx)
	return nil
}

func (s *Server) readLoop(ctx context.Context) {
	buf := make([]byte, sockstate.DefaultBufferSize)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if n > 0 && s.handler != nil {
			pkt := make([]byte, n)
			copy(pkt, buf[:n])
			s.mu.Lock()
			s.packetsTotal++
			s.mu.Unlock()
			s.handler.DatagramReceived(pkt, addr)
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// WriteTo lets a Handler built from this Server's factory send a reply
// datagram, since there is no per-packet Transport to write through.
func (s *Server) WriteTo(p []byte, addr net.Addr) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return 0, ErrorNotServing.Error()
	}
	return conn.WriteTo(p, addr)
}

// Close releases the datagram socket and fires stop. A second call is a
// no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	s.logger().Entry(logging.InfoLevel, "datagram endpoint closed").
		FieldAdd("packets_total", s.PacketsTotal()).
		Log()

	_ = s.evt.Fire(eventStop, nil)
	return err
}

// PacketsTotal returns the number of packets delivered to the handler so far.
func (s *Server) PacketsTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetsTotal
}

// Info returns the structured map described by spec.md §4.6: bound address,
// uptime and total packets processed.
func (s *Server) Info() map[string]interface{} {
	s.mu.Lock()
	conn := s.conn
	started := s.startedAt
	s.mu.Unlock()

	info := map[string]interface{}{
		"network":       s.network,
		"packets_total": s.PacketsTotal(),
	}

	if !started.IsZero() {
		info["uptime"] = time.Since(started).String()
	}
	if conn != nil {
		info["address"] = conn.LocalAddr().String()
	} else {
		info["address"] = s.address
	}

	return info
}
