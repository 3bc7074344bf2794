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
	"time"

	"github.com/sirupsen/logrus"
)

// Fields carries arbitrary structured key/value pairs onto a log line.
type Fields map[string]interface{}

func (f Fields) clone() Fields {
	n := make(Fields, len(f))
	for k, v := range f {
		n[k] = v
	}
	return n
}

// Entry accumulates a single log line: level, message, fields and errors.
// It is built fluently and flushed with Log or Check.
type Entry struct {
	log     *logrus.Logger
	time    time.Time
	level   Level
	message string
	errs    []error
	fields  Fields
}

func newEntry(log *logrus.Logger, lvl Level, message string) *Entry {
	return &Entry{
		log:     log,
		time:    time.Now(),
		level:   lvl,
		message: message,
		errs:    make([]error, 0),
		fields:  make(Fields),
	}
}

// FieldAdd sets a single field on the entry and returns it for chaining.
func (e *Entry) FieldAdd(key string, val interface{}) *Entry {
	if e == nil {
		return e
	}
	if e.fields == nil {
		e.fields = make(Fields)
	}
	e.fields[key] = val
	return e
}

// FieldMerge merges a Fields map onto the entry.
func (e *Entry) FieldMerge(f Fields) *Entry {
	if e == nil || f == nil {
		return e
	}
	if e.fields == nil {
		e.fields = make(Fields)
	}
	for k, v := range f {
		e.fields[k] = v
	}
	return e
}

// ErrorAdd appends parent errors to the entry, skipping nils when cleanNil is true.
func (e *Entry) ErrorAdd(cleanNil bool, err ...error) *Entry {
	if e == nil {
		return e
	}
	for _, er := range err {
		if er == nil && cleanNil {
			continue
		}
		e.errs = append(e.errs, er)
	}
	return e
}

// Log flushes the entry to logrus at its configured level.
func (e *Entry) Log() {
	if e == nil || e.log == nil || e.level == NilLevel {
		return
	}

	fld := make(logrus.Fields, len(e.fields)+1)
	for k, v := range e.fields {
		fld[k] = v
	}

	if len(e.errs) > 0 {
		msgs := make([]string, 0, len(e.errs))
		for _, er := range e.errs {
			if er != nil {
				msgs = append(msgs, er.Error())
			}
		}
		if len(msgs) > 0 {
			fld["errors"] = msgs
		}
	}

	e.log.WithTime(e.time).WithFields(fld).Log(e.level.Logrus(), e.message)
}

// Check logs the entry. If no error was ever added and okLevel is not
// NilLevel, the entry is re-leveled to okLevel before being logged - this is
// the "log success at info, failure at error" idiom used throughout the
// runtime. It returns true when no error was recorded.
func (e *Entry) Check(okLevel Level) bool {
	if e == nil {
		return true
	}

	ok := true
	for _, er := range e.errs {
		if er != nil {
			ok = false
			break
		}
	}

	if ok && okLevel != NilLevel {
		e.level = okLevel
	}

	e.Log()
	return ok
}
