/*
MIT License

Copyright (c) 2019 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// FuncLog returns a Logger lazily; components hold a FuncLog instead of a
// Logger so they never log against a logger fixed at construction time.
type FuncLog func() Logger

// Logger is the logging surface every package of the runtime depends on.
type Logger interface {
	SetLevel(lvl Level)
	GetLevel() Level

	SetFields(f Fields)
	GetFields() Fields

	// Entry starts a new log line at the given level.
	Entry(lvl Level, message string) *Entry
}

type lgr struct {
	m sync.RWMutex
	l *logrus.Logger
	v Level
	f Fields
}

// New returns a Logger writing to stderr in text format, mirroring the
// default logrus.Logger configuration.
func New() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	g := &lgr{
		l: l,
		f: make(Fields),
	}
	g.SetLevel(InfoLevel)
	return g
}

func (g *lgr) SetLevel(lvl Level) {
	g.m.Lock()
	defer g.m.Unlock()
	g.v = lvl
	if lvl != NilLevel {
		g.l.SetLevel(lvl.Logrus())
	}
}

func (g *lgr) GetLevel() Level {
	g.m.RLock()
	defer g.m.RUnlock()
	return g.v
}

func (g *lgr) SetFields(f Fields) {
	g.m.Lock()
	defer g.m.Unlock()
	g.f = f.clone()
}

func (g *lgr) GetFields() Fields {
	g.m.RLock()
	defer g.m.RUnlock()
	return g.f.clone()
}

func (g *lgr) Entry(lvl Level, message string) *Entry {
	g.m.RLock()
	defer g.m.RUnlock()

	e := newEntry(g.l, lvl, message)
	return e.FieldMerge(g.f)
}
