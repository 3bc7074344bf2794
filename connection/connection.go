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

// Package connection implements the stream-oriented Protocol that feeds
// incoming bytes to a single current consumer at a time, rebuilding that
// consumer from a factory whenever the slot is empty. This is how pipelined
// or concatenated requests on one TCP stream are served as distinct
// ProtocolConsumer lifecycles without ever tearing down the connection.
package connection

import (
	"sync"
	"time"

	"github.com/nabbar/aionet/consumer"
	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/logging"
	"github.com/nabbar/aionet/protocol"
)

const (
	ErrorSlotOccupied errcode.CodeError = iota + errcode.MinPkgConnection
)

func init() {
	errcode.RegisterIdFctMessage(ErrorSlotOccupied, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorSlotOccupied:
		return "connection already has a current consumer"
	}
	return ""
}

// Connection extends protocol.Protocol with the current-consumer slot and
// the data_received feed loop described by the request-pipelining
// invariant: a consumer that returns unconsumed bytes from DataReceived
// vacates the slot (via its own post_request) and the loop immediately
// builds a fresh consumer for the remainder.
type Connection struct {
	*protocol.Protocol

	mu      sync.Mutex
	log     logging.FuncLog
	factory consumer.Factory
	current *consumer.Consumer

	upgrading *consumer.Factory
}

// New returns a Connection whose slot is fed from factory.
func New(session uint64, producer interface{}, timeout time.Duration, log logging.FuncLog, inf protocol.FuncInfo, factory consumer.Factory) *Connection {
	return &Connection{
		Protocol: protocol.New(session, producer, timeout, log, inf),
		log:      log,
		factory:  factory,
	}
}

func (c *Connection) logger() logging.Logger {
	if c.log == nil {
		return logging.New()
	}
	return c.log()
}

// CurrentConsumer lazily builds one from the factory when the slot is empty,
// attaches it via SetConsumer, and returns it.
func (c *Connection) CurrentConsumer() *consumer.Consumer {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		return cur
	}

	cur = c.factory()
	_ = c.SetConsumer(cur)
	return cur
}

// SetConsumer asserts the slot is empty, attaches cons, and calls
// cons.ConnectionMade(c). It returns ErrorSlotOccupied if a consumer is
// already active.
func (c *Connection) SetConsumer(cons *consumer.Consumer) error {
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return ErrorSlotOccupied.Error()
	}
	c.current = cons
	c.mu.Unlock()

	cons.ConnectionMade(c)
	return nil
}

// ClearConsumer implements consumer.ConnectionSlot: it vacates the slot iff
// it still points at cons, guarding against a stale post_request listener
// from a consumer that was already replaced.
func (c *Connection) ClearConsumer(cons *consumer.Consumer) {
	c.mu.Lock()
	if c.current == cons {
		c.current = nil
	}
	factory := c.upgrading
	c.upgrading = nil
	c.mu.Unlock()

	if factory != nil {
		c.mu.Lock()
		c.factory = *factory
		c.mu.Unlock()
	}
}

// DataReceived feeds data through the current consumer (building one on
// demand) until the consumer has consumed everything, then re-arms the idle
// timer through Protocol.ResetIdle. The idle timer is not cancelled while
// the chunk is being processed. Each iteration may hand the
// residual bytes to a brand-new consumer, which is how one transport-level
// chunk containing two concatenated requests yields two distinct
// post_request firings.
func (c *Connection) DataReceived(data []byte) error {
	for len(data) > 0 {
		cur := c.CurrentConsumer()

		residual, err := cur.DataReceived(data)
		if err != nil {
			c.Protocol.ResetIdle()
			return err
		}
		if len(residual) == len(data) {
			// the consumer made no progress; avoid spinning forever.
			break
		}
		data = residual
	}

	c.Protocol.ResetIdle()
	return nil
}

// Upgrade replaces the consumer factory used for the next empty-slot build.
// If a consumer is currently active, the replacement only takes effect once
// that consumer's post_request fires; otherwise it takes effect immediately.
func (c *Connection) Upgrade(factory consumer.Factory) {
	c.mu.Lock()
	if c.current == nil {
		c.factory = factory
		c.mu.Unlock()
		return
	}
	c.upgrading = &factory
	c.mu.Unlock()
}

// ConnectionLost forwards connection_lost to the current consumer (if any)
// before delegating to the embedded Protocol's own bookkeeping.
func (c *Connection) ConnectionLost(err error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()

	if cur != nil {
		cur.ConnectionLost(err)
	}

	c.Protocol.ConnectionLost(err)
}
