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

// Package event implements the named one-time/many-times event primitive
// that Protocol, ProtocolConsumer, Producer and TcpServer are built on.
package event

import (
	"sync"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/logging"
)

const (
	ErrorUnknownEvent errcode.CodeError = iota + errcode.MinPkgEvent
	ErrorAlreadyDeclared
)

func init() {
	errcode.RegisterIdFctMessage(ErrorUnknownEvent, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorUnknownEvent:
		return "event name is not declared on this handler"
	case ErrorAlreadyDeclared:
		return "event name is declared both as one-time and many-times"
	}
	return ""
}

// Listener receives the arguments and optional error of a fired event.
type Listener func(args []interface{}, err error)

// Kind distinguishes events that fire at most once from events that may
// fire any number of times.
type Kind uint8

const (
	OneTime Kind = iota
	ManyTimes
)

type outcome struct {
	args []interface{}
	err  error
}

type evt struct {
	kind      Kind
	fired     bool
	outcome   outcome
	listeners []Listener
}

// Fired reports whether a OneTime event has already fired. Always false for
// a ManyTimes event.
func (e *evt) Fired() bool {
	return e.kind == OneTime && e.fired
}

// Handler owns a fixed set of declared event names, split between OneTime
// and ManyTimes, and dispatches Bind/Fire against them.
type Handler struct {
	mu  sync.Mutex
	log logging.FuncLog
	evt map[string]*evt
}

// NewHandler declares every name in oneTime as a OneTime event and every name
// in manyTimes as a ManyTimes event.
func NewHandler(log logging.FuncLog, oneTime []string, manyTimes []string) *Handler {
	h := &Handler{
		log: log,
		evt: make(map[string]*evt, len(oneTime)+len(manyTimes)),
	}

	for _, n := range oneTime {
		h.evt[n] = &evt{kind: OneTime, listeners: make([]Listener, 0)}
	}
	for _, n := range manyTimes {
		h.evt[n] = &evt{kind: ManyTimes, listeners: make([]Listener, 0)}
	}

	return h
}

func (h *Handler) logger() logging.Logger {
	if h.log == nil {
		return logging.New()
	}
	return h.log()
}

// Event returns the Fired() predicate surface for name. ok is false when name
// is not declared.
func (h *Handler) Event(name string) (fired bool, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, k := h.evt[name]
	if !k {
		return false, false
	}
	return e.Fired(), true
}

// Bind registers l against name, in declaration order. Binding on an
// already-fired OneTime event invokes l synchronously with the stored
// outcome instead of queueing it.
func (h *Handler) Bind(name string, l Listener) error {
	h.mu.Lock()

	e, ok := h.evt[name]
	if !ok {
		h.mu.Unlock()
		return errcode.Newf(ErrorUnknownEvent.Uint16(), "%s: %s", ErrorUnknownEvent.Message(), name)
	}

	if e.kind == OneTime && e.fired {
		args, err := e.outcome.args, e.outcome.err
		h.mu.Unlock()
		h.invoke(l, args, err)
		return nil
	}

	e.listeners = append(e.listeners, l)
	h.mu.Unlock()
	return nil
}

// Fire invokes every listener bound to name, in bind order, with args and
// err. Firing an already-fired OneTime event is a silent no-op. Firing an
// undeclared name returns ErrorUnknownEvent.
func (h *Handler) Fire(name string, err error, args ...interface{}) error {
	h.mu.Lock()

	e, ok := h.evt[name]
	if !ok {
		h.mu.Unlock()
		return errcode.Newf(ErrorUnknownEvent.Uint16(), "%s: %s", ErrorUnknownEvent.Message(), name)
	}

	if e.kind == OneTime {
		if e.fired {
			h.mu.Unlock()
			return nil
		}
		e.fired = true
		e.outcome = outcome{args: args, err: err}
	}

	listeners := make([]Listener, len(e.listeners))
	copy(listeners, e.listeners)
	h.mu.Unlock()

	for _, l := range listeners {
		h.invoke(l, args, err)
	}

	return nil
}

// invoke runs a listener, recovering any panic so that one faulty listener
// never prevents the remaining listeners (or the caller of Fire) from
// running.
func (h *Handler) invoke(l Listener, args []interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger().Entry(logging.ErrorLevel, "event listener panicked").
				FieldAdd("recover", r).
				Log()
		}
	}()

	l(args, err)
}

// CopyManyTimesListeners appends every ManyTimes listener currently bound on
// h onto other, for each event name declared on both handlers. This is how a
// consumer inherits its producer's aggregate hooks without per-consumer
// wiring.
func (h *Handler) CopyManyTimesListeners(other *Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if other == nil {
		return
	}

	for name, e := range h.evt {
		if e.kind != ManyTimes {
			continue
		}

		other.mu.Lock()
		oe, ok := other.evt[name]
		if ok && oe.kind == ManyTimes {
			oe.listeners = append(oe.listeners, e.listeners...)
		}
		other.mu.Unlock()
	}
}
