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

// Package protocol is the base of every object attached to a transport for
// the duration of a connection: it owns the transport reference, the peer
// address, the idle timer and the connection_made/connection_lost events.
package protocol

import (
	"net"
	"sync"
	"time"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/logging"
	"github.com/nabbar/aionet/sockstate"
)

const (
	ErrorNoTransport errcode.CodeError = iota + errcode.MinPkgProtocol
)

func init() {
	errcode.RegisterIdFctMessage(ErrorNoTransport, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorNoTransport:
		return "protocol has no attached transport"
	}
	return ""
}

// Transport is the minimal surface a runtime must offer for a Protocol to
// attach to: write/close/abort plus the out-of-band info a Protocol needs to
// infer its peer address and kind.
type Transport interface {
	Write(p []byte) (int, error)
	Close() error
	Abort() error
	// Extra returns runtime-specific metadata; Protocol looks up "peername"
	// and "sockname" of type net.Addr.
	Extra(key string) interface{}
	Closing() bool
}

// FuncInfo reports a connection lifecycle transition; it is never required,
// only ever an optional observability hook.
type FuncInfo func(local, remote net.Addr, state sockstate.ConnState)

// Server and Client are the two kinds a Protocol can be, inferred from
// whether the transport reports a peer address.
const (
	KindServer = "server"
	KindClient = "client"
)

const (
	eventConnectionMade = "connection_made"
	eventConnectionLost = "connection_lost"
)

// Protocol is embedded by Connection (and any UDP-style per-packet protocol)
// to get transport attachment, peer addressing and idle-timeout handling for
// free. It is guarded by a single mutex rather than pinned to a cooperative
// loop goroutine, per the Go concurrency mapping of the runtime: cheaper
// than threading a channel through every call site, and the critical
// sections here are all pure bookkeeping.
type Protocol struct {
	mu sync.Mutex

	evt *event.Handler
	log logging.FuncLog
	inf FuncInfo

	session  uint64
	producer interface{}

	transport Transport
	peer      net.Addr
	kind      string

	timeout time.Duration
	timer   *time.Timer

	lost bool
}

// New returns a Protocol with no attached transport yet. producer is an
// opaque back-reference (typically *producer.Producer) kept only so callers
// can retrieve it via Producer(); Protocol never calls into it.
func New(session uint64, producer interface{}, timeout time.Duration, log logging.FuncLog, inf FuncInfo) *Protocol {
	return &Protocol{
		evt:      event.NewHandler(log, []string{eventConnectionMade, eventConnectionLost}, nil),
		log:      log,
		inf:      inf,
		session:  session,
		producer: producer,
		timeout:  timeout,
	}
}

func (p *Protocol) logger() logging.Logger {
	if p.log == nil {
		return logging.New()
	}
	return p.log()
}

// Events exposes the event.Handler so subtypes (Connection) can bind
// additional declared events onto the same dispatch surface indirectly; the
// handler itself only knows connection_made/connection_lost.
func (p *Protocol) Events() *event.Handler {
	return p.evt
}

func (p *Protocol) Session() uint64 {
	return p.session
}

// Producer returns the opaque back-reference given to New.
func (p *Protocol) Producer() interface{} {
	return p.producer
}

func (p *Protocol) Kind() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

func (p *Protocol) Peer() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peer
}

func (p *Protocol) Transport() Transport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transport
}

func (p *Protocol) notify(state sockstate.ConnState) {
	if p.inf == nil {
		return
	}

	var local, remote net.Addr
	if a, ok := p.transport.Extra("sockname").(net.Addr); ok {
		local = a
	}
	remote = p.peer

	p.inf(local, remote, state)
}

// ConnectionMade attaches t, derives the peer address and kind, fires
// connection_made and arms the idle timer.
func (p *Protocol) ConnectionMade(t Transport) {
	p.mu.Lock()
	p.transport = t
	p.kind = KindServer

	if peer, ok := t.Extra("peername").(net.Addr); ok && peer != nil {
		p.peer = peer
	} else if local, ok := t.Extra("sockname").(net.Addr); ok {
		p.peer = local
		p.kind = KindClient
	}
	p.mu.Unlock()

	p.notify(sockstate.ConnectionNew)

	_ = p.evt.Fire(eventConnectionMade, nil)

	p.mu.Lock()
	timeout := p.timeout
	open := !t.Closing()
	p.mu.Unlock()

	if timeout > 0 && open {
		p.armTimer(timeout)
	}
}

func (p *Protocol) armTimer(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d, func() {
		_ = p.Close()
	})
}

func (p *Protocol) cancelTimer() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// SetTimeout replaces the idle timeout. Calling it twice with the same value
// still results in exactly one armed timer.
func (p *Protocol) SetTimeout(d time.Duration) {
	p.cancelTimer()

	p.mu.Lock()
	p.timeout = d
	transport := p.transport
	p.mu.Unlock()

	if d > 0 && transport != nil && !transport.Closing() {
		p.armTimer(d)
	}
}

// ResetIdle cancels and rearms the timer, called by Connection after each
// completed data cycle.
func (p *Protocol) ResetIdle() {
	p.mu.Lock()
	d := p.timeout
	t := p.transport
	p.mu.Unlock()

	p.cancelTimer()
	if d > 0 && t != nil && !t.Closing() {
		p.armTimer(d)
	}
}

// ConnectionLost fires connection_lost exactly once and cancels the idle
// timer. Subsequent calls are no-ops.
func (p *Protocol) ConnectionLost(err error) {
	p.mu.Lock()
	if p.lost {
		p.mu.Unlock()
		return
	}
	p.lost = true
	p.mu.Unlock()

	p.cancelTimer()
	p.notify(sockstate.ConnectionClose)
	_ = p.evt.Fire(eventConnectionLost, sockstate.ErrorFilter(err))
}

// EOFReceived is the half-close notification; the base Protocol has no
// special behavior for it beyond being overridable by Connection/Consumer.
func (p *Protocol) EOFReceived() {}

// Close is a no-op if the transport is already closed or absent.
func (p *Protocol) Close() error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()

	if t == nil || t.Closing() {
		return nil
	}
	return t.Close()
}

// Abort is a no-op if the transport is already closed or absent.
func (p *Protocol) Abort() error {
	p.mu.Lock()
	t := p.transport
	p.mu.Unlock()

	if t == nil || t.Closing() {
		return nil
	}
	return t.Abort()
}

// Info returns the structured map described by spec.md §6: runtime-facing
// snapshot of this protocol's addressing and kind.
func (p *Protocol) Info() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := map[string]interface{}{
		"session": p.session,
		"kind":    p.kind,
	}
	if p.peer != nil {
		m["peer"] = p.peer.String()
	}
	return m
}
