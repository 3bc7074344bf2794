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

// Package pubsub is the backend-agnostic broadcasting model: it owns the
// local client registry and the broadcast/eviction semantics, and delegates
// subscribe/unsubscribe/publish to whatever Backend a transport package
// (pubsub/natschan, for NATS) provides.
package pubsub

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/logging"
)

const (
	ErrorNilBackend errcode.CodeError = iota + errcode.MinPkgPubSub
	ErrorClosed
)

func init() {
	errcode.RegisterIdFctMessage(ErrorNilBackend, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorNilBackend:
		return "pubsub requires a non-nil Backend"
	case ErrorClosed:
		return "pubsub is closed"
	}
	return ""
}

// Codec optionally decodes a channel's raw payload before it reaches
// clients. Absent a Codec, Broadcast passes payloads through unchanged.
type Codec interface {
	Decode(payload []byte) ([]byte, error)
}

// Client receives delivered messages. An error return marks the client for
// eviction after the current broadcast; only non-net.Error returns are
// logged, mirroring an I/O failure against a closed client being the
// expected/unremarkable case.
type Client func(channel string, message []byte) error

// Backend is the transport-specific half of a PubSub: it owns the actual
// wire subscriptions and publishes. Every Backend call may suspend on I/O.
type Backend interface {
	Subscribe(channels ...string) error
	Unsubscribe(channels ...string) error
	PSubscribe(patterns ...string) error
	Publish(channel string, msg []byte) (int, error)
	Channels(pattern string) ([]string, error)
	Count(channels ...string) (map[string]int, error)
	Close() error
}

// PubSub is the local fan-out point: a Backend delivers messages to it via
// Broadcast, and it redistributes them to every locally registered Client.
type PubSub struct {
	mu sync.Mutex

	log     logging.FuncLog
	backend Backend
	codec   Codec

	subscribed map[string]struct{}

	clients map[uint64]Client
	nextID  uint64

	closed bool
}

// New returns a PubSub delegating to backend, optionally decoding payloads
// through codec before they reach clients.
func New(log logging.FuncLog, backend Backend, codec Codec) *PubSub {
	return &PubSub{
		log:        log,
		backend:    backend,
		codec:      codec,
		subscribed: make(map[string]struct{}),
		clients:    make(map[uint64]Client),
	}
}

func (p *PubSub) logger() logging.Logger {
	if p.log == nil {
		return logging.New()
	}
	return p.log()
}

// Subscribe ensures the backend connection is live and registers interest in
// each channel.
func (p *PubSub) Subscribe(channels ...string) error {
	if err := p.assertOpen(); err != nil {
		return err
	}
	if err := p.backend.Subscribe(channels...); err != nil {
		return err
	}

	p.mu.Lock()
	for _, ch := range channels {
		p.subscribed[ch] = struct{}{}
	}
	p.mu.Unlock()
	return nil
}

// Unsubscribe is Subscribe's inverse; an empty channels list unsubscribes
// from everything currently tracked.
func (p *PubSub) Unsubscribe(channels ...string) error {
	if err := p.assertOpen(); err != nil {
		return err
	}

	p.mu.Lock()
	if len(channels) == 0 {
		channels = make([]string, 0, len(p.subscribed))
		for ch := range p.subscribed {
			channels = append(channels, ch)
		}
	}
	p.mu.Unlock()

	if err := p.backend.Unsubscribe(channels...); err != nil {
		return err
	}

	p.mu.Lock()
	for _, ch := range channels {
		delete(p.subscribed, ch)
	}
	p.mu.Unlock()
	return nil
}

// PSubscribe is the pattern-based variant; the backend decides matching.
func (p *PubSub) PSubscribe(patterns ...string) error {
	if err := p.assertOpen(); err != nil {
		return err
	}
	return p.backend.PSubscribe(patterns...)
}

// Publish sends a single message; the returned count is backend-defined.
func (p *PubSub) Publish(channel string, msg []byte) (int, error) {
	if err := p.assertOpen(); err != nil {
		return 0, err
	}
	return p.backend.Publish(channel, msg)
}

// Channels lists active channels matching the optional glob pattern.
func (p *PubSub) Channels(pattern string) ([]string, error) {
	if err := p.assertOpen(); err != nil {
		return nil, err
	}
	return p.backend.Channels(pattern)
}

// Count returns the subscriber count per requested channel.
func (p *PubSub) Count(channels ...string) (map[string]int, error) {
	if err := p.assertOpen(); err != nil {
		return nil, err
	}
	return p.backend.Count(channels...)
}

// AddClient registers cb as a local listener and returns an id for
// RemoveClient. Clients added during a Broadcast are not invoked for the
// message currently in flight.
func (p *PubSub) AddClient(cb Client) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.clients[id] = cb
	return id
}

// RemoveClient unregisters a listener previously returned by AddClient.
func (p *PubSub) RemoveClient(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, id)
}

// ClientCount reports how many local listeners are currently registered.
func (p *PubSub) ClientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

// Close releases the underlying backend connection.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.backend.Close()
}

func (p *PubSub) assertOpen() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrorClosed.Error()
	}
	if p.backend == nil {
		return ErrorNilBackend.Error()
	}
	return nil
}

// Broadcast is the Backend's entrypoint for an inbound message: decode
// through the codec (if any), snapshot the client set, invoke every client
// with the decoded payload, and evict whoever errored. Non-I/O errors are
// logged; a plain net.Error eviction (the expected shape of "the peer went
// away") is not.
func (p *PubSub) Broadcast(channel string, payload []byte) {
	message := payload
	if p.codec != nil {
		if decoded, err := p.codec.Decode(payload); err == nil {
			message = decoded
		}
	}

	p.mu.Lock()
	snapshot := make(map[uint64]Client, len(p.clients))
	for id, c := range p.clients {
		snapshot[id] = c
	}
	p.mu.Unlock()

	var evict []uint64
	for id, c := range snapshot {
		if err := p.invoke(c, channel, message); err != nil {
			evict = append(evict, id)

			var netErr net.Error
			if !errors.As(err, &netErr) {
				p.logger().Entry(logging.WarnLevel, "pubsub client evicted").
					FieldAdd("channel", channel).
					ErrorAdd(true, err).
					Log()
			}
		}
	}

	if len(evict) == 0 {
		return
	}

	p.mu.Lock()
	for _, id := range evict {
		delete(p.clients, id)
	}
	p.mu.Unlock()
}

func (p *PubSub) invoke(c Client, channel string, message []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pubsub client panicked: %v", r)
		}
	}()
	return c(channel, message)
}
