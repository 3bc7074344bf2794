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

// Package natschan is the NATS-backed pubsub.Backend: every channel is a
// NATS subject, PSubscribe is a subscribe against a wildcard subject (NATS
// has no separate pattern-subscribe verb, "*"/">" tokens are just ordinary
// subject syntax), and Publish's receiver count is always reported as 1
// since the client protocol does not return one.
package natschan

import (
	"fmt"
	"path"
	"sync"

	"github.com/nabbar/aionet/errcode"
	"github.com/nats-io/nats.go"
)

const (
	ErrorNilConn errcode.CodeError = iota + errcode.MinPkgPubSub + 50
	ErrorSubscribe
)

func init() {
	errcode.RegisterIdFctMessage(ErrorNilConn, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorNilConn:
		return "natschan requires a non-nil *nats.Conn"
	case ErrorSubscribe:
		return "failed to subscribe to subject"
	}
	return ""
}

// OnMessage is invoked for every inbound message on a subscribed subject;
// callers wire this to (*pubsub.PubSub).Broadcast.
type OnMessage func(channel string, payload []byte)

// Backend adapts a *nats.Conn to pubsub.Backend: one *nats.Subscription per
// subject, torn down on Unsubscribe/Close.
type Backend struct {
	mu sync.Mutex

	conn   *nats.Conn
	onMsg  OnMessage
	subs   map[string]*nats.Subscription
	closed bool
}

// New returns a Backend delivering every message received on a subscribed
// subject to onMsg.
func New(conn *nats.Conn, onMsg OnMessage) (*Backend, error) {
	if conn == nil {
		return nil, ErrorNilConn.Error()
	}
	return &Backend{
		conn:  conn,
		onMsg: onMsg,
		subs:  make(map[string]*nats.Subscription),
	}, nil
}

func (b *Backend) handler(subject string) nats.MsgHandler {
	return func(m *nats.Msg) {
		if b.onMsg != nil {
			b.onMsg(subject, m.Data)
		}
	}
}

// Subscribe subscribes to each subject not already subscribed to.
func (b *Backend) Subscribe(channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range channels {
		if _, ok := b.subs[ch]; ok {
			continue
		}
		sub, err := b.conn.Subscribe(ch, b.handler(ch))
		if err != nil {
			return ErrorSubscribe.Error(err)
		}
		b.subs[ch] = sub
	}
	return nil
}

// PSubscribe subscribes to each pattern the same way Subscribe does: NATS
// wildcard subjects ("orders.*", "orders.>") need no distinct verb.
func (b *Backend) PSubscribe(patterns ...string) error {
	return b.Subscribe(patterns...)
}

// Unsubscribe drains each named subscription; an empty list unsubscribes
// from everything currently held.
func (b *Backend) Unsubscribe(channels ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(channels) == 0 {
		for ch, sub := range b.subs {
			_ = sub.Unsubscribe()
			delete(b.subs, ch)
		}
		return nil
	}

	for _, ch := range channels {
		if sub, ok := b.subs[ch]; ok {
			_ = sub.Unsubscribe()
			delete(b.subs, ch)
		}
	}
	return nil
}

// Publish sends msg on channel. NATS's client protocol never reports a
// subscriber count, so the returned count is always 1 on success.
func (b *Backend) Publish(channel string, msg []byte) (int, error) {
	if err := b.conn.Publish(channel, msg); err != nil {
		return 0, err
	}
	return 1, nil
}

// Channels lists the subjects this Backend is currently subscribed to that
// match the glob pattern (path.Match syntax; empty pattern matches
// everything); NATS exposes no global
// channel directory to an ordinary client, so this reflects local state
// only.
func (b *Backend) Channels(pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.subs))
	for ch := range b.subs {
		ok, _ := path.Match(pattern, ch)
		if pattern == "" || ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Count reports each subscription's pending (undelivered) message count as
// a proxy for subscriber activity; NATS does not expose a true subscriber
// count to clients.
func (b *Backend) Count(channels ...string) (map[string]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]int, len(channels))
	for _, ch := range channels {
		sub, ok := b.subs[ch]
		if !ok {
			out[ch] = 0
			continue
		}
		n, _, err := sub.Pending()
		if err != nil {
			return nil, fmt.Errorf("pending count for %q: %w", ch, err)
		}
		out[ch] = n
	}
	return out, nil
}

// Close unsubscribes everything and closes the underlying connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	_ = b.Unsubscribe()
	b.conn.Close()
	return nil
}
