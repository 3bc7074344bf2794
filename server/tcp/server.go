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

// Package tcp implements the stream-oriented Producer refinement that binds
// a listener, accepts connections, and tracks them in an open-connection
// registry so it can gate on max concurrent connections and drain on close.
package tcp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nabbar/aionet/connection"
	"github.com/nabbar/aionet/consumer"
	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/logging"
	"github.com/nabbar/aionet/producer"
	"github.com/nabbar/aionet/protocol"
	"github.com/nabbar/aionet/sockstate"
)

const (
	ErrorAlreadyServing errcode.CodeError = iota + errcode.MinPkgServerTCP
	ErrorListen
	ErrorNotServing
)

func init() {
	errcode.RegisterIdFctMessage(ErrorAlreadyServing, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorAlreadyServing:
		return "server is already serving"
	case ErrorListen:
		return "failed to bind listener"
	case ErrorNotServing:
		return "server is not currently serving"
	}
	return ""
}

const (
	eventStart          = "start"
	eventStop           = "stop"
	eventConnectionMade = "connection_made"
	eventPreRequest     = "pre_request"
	eventPostRequest    = "post_request"
	eventConnectionLost = "connection_lost"
)

// Server is a TCP-flavored Producer: it binds (or adopts) a listener,
// accepts connections by building them through the embedded Producer, and
// keeps an open-connection registry so Close can drain gracefully and
// max-connection gating can stop accepting new work under load.
type Server struct {
	*producer.Producer

	mu  sync.Mutex
	log logging.FuncLog
	inf protocol.FuncInfo
	evt *event.Handler

	network   string
	address   string
	keepAlive time.Duration
	maxConn   int

	consumerFactory consumer.Factory

	ln        net.Listener
	open      map[uint64]*connection.Connection
	startedAt time.Time
	closed    bool

	requestsTotal uint64
}

// New returns a Server bound to network/address (standard net.Listen
// values: "tcp", "tcp4", "tcp6") with the given per-connection idle timeout,
// maximum concurrent connections (0 = unlimited) and consumer factory.
func New(log logging.FuncLog, inf protocol.FuncInfo, network, address string, keepAlive time.Duration, maxConn int, consumerFactory consumer.Factory) *Server {
	s := &Server{
		log:             log,
		inf:             inf,
		evt:             event.NewHandler(log, []string{eventStart, eventStop}, []string{eventConnectionMade, eventPreRequest, eventPostRequest, eventConnectionLost}),
		network:         network,
		address:         address,
		keepAlive:       keepAlive,
		maxConn:         maxConn,
		consumerFactory: consumerFactory,
		open:            make(map[uint64]*connection.Connection),
	}

	s.Producer = producer.New(log, s.createProtocol)
	return s
}

func (s *Server) logger() logging.Logger {
	if s.log == nil {
		return logging.New()
	}
	return s.log()
}

// Events exposes start/stop (OneTime) and connection_made/pre_request/
// post_request/connection_lost (ManyTimes, aggregated across every
// connection this server has ever accepted).
func (s *Server) Events() *event.Handler {
	return s.evt
}

// createProtocol is the producer.ProtocolFactory passed to the embedded
// Producer: it builds a Connection whose consumer factory is wrapped so
// every consumer's pre_request/post_request re-fire at the server level.
func (s *Server) createProtocol(session uint64, prod interface{}) interface{} {
	return connection.New(session, prod, s.keepAlive, s.log, s.inf, s.wrapConsumerFactory())
}

func (s *Server) wrapConsumerFactory() consumer.Factory {
	base := s.consumerFactory
	return func() *consumer.Consumer {
		c := base()
		_ = c.Events().Bind(eventPreRequest, event.Listener(func(args []interface{}, err error) {
			_ = s.evt.Fire(eventPreRequest, err, args...)
		}))
		_ = c.OnFinished(func(args []interface{}, err error) {
			atomic.AddUint64(&s.requestsTotal, 1)
			_ = s.evt.Fire(eventPostRequest, err, args...)
		})
		return c
	}
}

// StartServing binds the listener (wrapping it in tlsConf when non-nil),
// fires start, and begins accepting connections in the background. On a
// bind error, start fires with that error and StartServing returns it
// without retrying.
func (s *Server) StartServing(ctx context.Context, tlsConf *tls.Config) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrorAlreadyServing.Error()
	}
	s.mu.Unlock()

	ln, err := net.Listen(s.network, s.address)
	if err != nil {
		wrapped := ErrorListen.Error(err)
		_ = s.evt.Fire(eventStart, wrapped)
		return wrapped
	}

	if tlsConf != nil {
		ln = tls.NewListener(ln, tlsConf)
	}

	s.mu.Lock()
	s.ln = ln
	s.startedAt = time.Now()
	s.mu.Unlock()

	_ = s.evt.Fire(eventStart, nil)

	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		c := s.CreateProtocol().(*connection.Connection)

		_ = c.Events().Bind(eventConnectionMade, event.Listener(func(args []interface{}, err error) {
			_ = s.evt.Fire(eventConnectionMade, err, args...)
		}))
		_ = c.Events().Bind(eventConnectionLost, event.Listener(func(args []interface{}, err error) {
			s.removeOpen(c)
			_ = s.evt.Fire(eventConnectionLost, err, args...)
		}))

		c.ConnectionMade(newTransport(conn))
		s.registerOpen(c)

		go s.serve(c, conn)

		if s.maxConn > 0 && s.OpenCount() >= s.maxConn {
			_ = s.StopServing()
		}
	}
}

func (s *Server) serve(c *connection.Connection, conn net.Conn) {
	buf := make([]byte, sockstate.DefaultBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if derr := c.DataReceived(buf[:n]); derr != nil {
				c.ConnectionLost(derr)
				return
			}
		}
		if err != nil {
			c.ConnectionLost(err)
			return
		}
	}
}

func (s *Server) registerOpen(c *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open[c.Session()] = c
}

func (s *Server) removeOpen(c *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, c.Session())
}

// OpenCount returns the number of connections currently registered as open.
func (s *Server) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}

func (s *Server) snapshotOpen() []*connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*connection.Connection, 0, len(s.open))
	for _, c := range s.open {
		out = append(out, c)
	}
	return out
}

// StopServing stops accepting new connections but leaves existing ones
// alive; a weaker variant of Close.
func (s *Server) StopServing() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	if ln == nil {
		return ErrorNotServing.Error()
	}
	return ln.Close()
}

// Close stops accepting connections, closes every open connection's
// transport, waits (bounded by ctx) for each to observe connection_lost,
// then fires stop. A second call is a no-op.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	conns := s.snapshotOpen()
	var wg sync.WaitGroup

	for _, c := range conns {
		done := make(chan struct{})
		_ = c.Events().Bind(eventConnectionLost, event.Listener(func(args []interface{}, err error) {
			close(done)
		}))

		_ = c.Close()

		wg.Add(1)
		go func(done chan struct{}) {
			defer wg.Done()
			select {
			case <-done:
			case <-ctx.Done():
			}
		}(done)
	}

	wg.Wait()

	s.logger().Entry(logging.InfoLevel, "server stopped").
		FieldAdd("requests_total", atomic.LoadUint64(&s.requestsTotal)).
		Log()

	_ = s.evt.Fire(eventStop, nil)
	return nil
}

// Info returns uptime, the bound address, session/open-connection counts and
// total requests processed.
func (s *Server) Info() map[string]interface{} {
	s.mu.Lock()
	ln := s.ln
	started := s.startedAt
	open := len(s.open)
	s.mu.Unlock()

	info := map[string]interface{}{
		"network":          s.network,
		"session_count":    s.Producer.Session(),
		"open_connections": open,
		"requests_total":   atomic.LoadUint64(&s.requestsTotal),
	}

	if !started.IsZero() {
		info["uptime"] = time.Since(started).String()
	}
	if ln != nil {
		info["address"] = ln.Addr().String()
	} else {
		info["address"] = s.address
	}

	return info
}
