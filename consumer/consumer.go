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

// Package consumer implements the per-request state machine a Connection
// builds on demand for every request it serves: created -> pre_request_fired
// -> (any number of data_received/data_processed cycles) -> post_request_fired,
// the latter being terminal.
package consumer

import (
	"fmt"
	"sync"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/logging"
)

const (
	ErrorNilHandler errcode.CodeError = iota + errcode.MinPkgConsumer
	ErrorAlreadyFinished
)

func init() {
	errcode.RegisterIdFctMessage(ErrorNilHandler, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorNilHandler:
		return "consumer requires a non-nil Handler"
	case ErrorAlreadyFinished:
		return "consumer has already fired post_request"
	}
	return ""
}

const (
	eventPreRequest    = "pre_request"
	eventPostRequest   = "post_request"
	eventDataReceived  = "data_received"
	eventDataProcessed = "data_processed"
)

// Factory builds a fresh, not-yet-started consumer with no arguments.
// Connection and Producer both call one whenever they need a new Consumer.
type Factory func() *Consumer

// Handler is the application logic a concrete consumer provides: feed it
// bytes, get back whatever the subclass did not consume (nil when it
// consumed everything) or an error that terminates the request.
type Handler interface {
	DataReceived(data []byte) (residual []byte, err error)
}

// Requester is implemented by client-side consumers only: Start, when given
// a non-nil request, invokes StartRequest after firing pre_request.
type Requester interface {
	StartRequest() error
}

// Attacher is implemented by a Handler that decides for itself when a
// request is complete (e.g. on seeing a terminator byte) rather than
// signaling completion only through a DataReceived error. New calls Attach
// once, handing the handler the Consumer it can later call Finished on -
// the Go equivalent of the original's subclass calling its own
// self.finished().
type Attacher interface {
	Attach(c *Consumer)
}

// ConnectionSlot is the minimal surface of Connection a Consumer needs: just
// enough to vacate its own slot once post_request fires. Connection
// implements this; Consumer never needs to know anything else about it.
type ConnectionSlot interface {
	ClearConsumer(c *Consumer)
}

// Consumer is the per-request object a Connection builds from its consumer
// factory. It has no identity beyond a single request: once post_request
// fires it is discarded.
type Consumer struct {
	mu sync.Mutex

	evt *event.Handler
	log logging.FuncLog

	conn    ConnectionSlot
	handler Handler

	request  interface{}
	count    uint64
	started  bool
	finished bool
}

// New returns a Consumer bound to handler, with pre_request/post_request
// declared OneTime and data_received/data_processed declared ManyTimes. It
// has no connection back-reference yet; Connection.SetConsumer supplies one
// via ConnectionMade once the slot is attached.
func New(log logging.FuncLog, handler Handler) *Consumer {
	c := &Consumer{
		evt:     event.NewHandler(log, []string{eventPreRequest, eventPostRequest}, []string{eventDataReceived, eventDataProcessed}),
		log:     log,
		handler: handler,
	}

	if a, ok := handler.(Attacher); ok {
		a.Attach(c)
	}

	return c
}

// ConnectionMade attaches the back-reference used to vacate the connection's
// slot once this consumer finishes.
func (c *Consumer) ConnectionMade(conn ConnectionSlot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Consumer) logger() logging.Logger {
	if c.log == nil {
		return logging.New()
	}
	return c.log()
}

// Events exposes the event.Handler so a Producer can copy its ManyTimes
// listeners onto every consumer it builds.
func (c *Consumer) Events() *event.Handler {
	return c.evt
}

// OnFinished is an alias for Events().Bind(post_request, ...), matching the
// name this event is known by everywhere outside the state-machine diagram.
func (c *Consumer) OnFinished(l event.Listener) error {
	return c.evt.Bind(eventPostRequest, l)
}

// Connection returns the ConnectionSlot given to ConnectionMade, or nil
// before that has happened. Handlers that need to write a reply (rather
// than only returning residual bytes) type-assert this to whatever richer
// interface their Connection actually implements (e.g.
// interface{ Transport() protocol.Transport }).
func (c *Consumer) Connection() ConnectionSlot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Consumer) Request() interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.request
}

func (c *Consumer) Count() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Start fires pre_request exactly once, binds the post_request listener that
// vacates the connection's slot, and, when request is non-nil and the
// handler implements Requester, invokes StartRequest. A panic or error from
// StartRequest is captured and converted into Finished(err).
func (c *Consumer) Start(request interface{}) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.request = request
	c.mu.Unlock()

	_ = c.evt.Bind(eventPostRequest, func(args []interface{}, err error) {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.ClearConsumer(c)
		}
	})

	_ = c.evt.Fire(eventPreRequest, nil)

	if request == nil {
		return nil
	}

	r, ok := c.handler.(Requester)
	if !ok {
		return nil
	}

	if err := c.callStartRequest(r); err != nil {
		c.Finished(err)
		return err
	}
	return nil
}

func (c *Consumer) callStartRequest(r Requester) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("start_request panicked: %v", rec)
		}
	}()
	return r.StartRequest()
}

// DataReceived implements the per-chunk cycle: an implicit Start() on the
// first byte (server side), the data_received/data_processed event pair
// around the handler call, and a Finished(err) if the handler fails. A
// zero-length chunk is a no-op and never starts the consumer.
func (c *Consumer) DataReceived(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		if err := c.Start(nil); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.count++
	c.mu.Unlock()

	_ = c.evt.Fire(eventDataReceived, nil, data)

	residual, err := c.handler.DataReceived(data)

	_ = c.evt.Fire(eventDataProcessed, err, data)

	if err != nil {
		c.Finished(err)
		return nil, err
	}

	return residual, nil
}

// Finished fires post_request exactly once; subsequent calls are no-ops.
func (c *Consumer) Finished(err error, args ...interface{}) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.mu.Unlock()

	if err != nil {
		c.logger().Entry(logging.DebugLevel, "consumer finished with error").
			FieldAdd("request_count", c.Count()).
			ErrorAdd(true, err).
			Log()
	}

	_ = c.evt.Fire(eventPostRequest, err, args...)
}

// ConnectionLost finishes the consumer with exc, matching the Connection's
// propagation of connection_lost to whatever consumer is currently active.
func (c *Consumer) ConnectionLost(exc error) {
	c.Finished(exc)
}
