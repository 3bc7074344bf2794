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

// Package producer implements the session-counting factory that TcpServer
// and DatagramServer build on: it mints session numbers, builds protocols
// through a caller-supplied factory, and lets aggregate hooks observe every
// consumer it builds without per-consumer wiring.
package producer

import (
	"sync"

	"github.com/nabbar/aionet/consumer"
	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/logging"
)

const (
	ErrorNilProtocolFactory errcode.CodeError = iota + errcode.MinPkgProducer
)

func init() {
	errcode.RegisterIdFctMessage(ErrorNilProtocolFactory, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorNilProtocolFactory:
		return "producer requires a non-nil protocol factory"
	}
	return ""
}

const (
	eventDataReceived  = "data_received"
	eventDataProcessed = "data_processed"
)

// ProtocolFactory builds the Protocol-shaped value (typically a
// *connection.Connection or a datagram protocol) for a new session. The
// returned value is opaque to Producer, which only ever hands it back to its
// own caller.
type ProtocolFactory func(session uint64, producer interface{}) interface{}

// Producer mints session numbers and builds protocols/consumers through
// caller-supplied factories. TcpServer and DatagramServer embed one.
type Producer struct {
	mu sync.Mutex

	log     logging.FuncLog
	factory ProtocolFactory
	evt     *event.Handler

	session uint64
}

// New returns a Producer that calls factory for every CreateProtocol, and
// declares data_received/data_processed as ManyTimes events mirroring the
// ones every consumer it builds will have, so a caller can bind aggregate
// hooks once at the producer level.
func New(log logging.FuncLog, factory ProtocolFactory) *Producer {
	return &Producer{
		log:     log,
		factory: factory,
		evt:     event.NewHandler(log, nil, []string{eventDataReceived, eventDataProcessed}),
	}
}

// Events exposes the aggregate event.Handler: bind here to observe every
// consumer this producer ever builds.
func (p *Producer) Events() *event.Handler {
	return p.evt
}

// Session returns the number of protocols created so far.
func (p *Producer) Session() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// CreateProtocol increments the session counter and calls the protocol
// factory with the new session number and this Producer as its opaque
// back-reference.
func (p *Producer) CreateProtocol() interface{} {
	if p.factory == nil {
		return nil
	}

	p.mu.Lock()
	p.session++
	n := p.session
	p.mu.Unlock()

	return p.factory(n, p)
}

// BuildConsumer calls factory, then copies every ManyTimes listener bound on
// Events() onto the new consumer's own handler - this is how aggregate
// metrics observe every request without per-consumer wiring.
func (p *Producer) BuildConsumer(factory consumer.Factory) *consumer.Consumer {
	c := factory()
	p.evt.CopyManyTimesListeners(c.Events())
	return c
}

// Info returns the structured map described by spec.md §6: at minimum the
// session count. TcpServer/DatagramServer extend this with their own
// listener and connection-set data.
func (p *Producer) Info() map[string]interface{} {
	return map[string]interface{}{
		"session_count": p.Session(),
	}
}
