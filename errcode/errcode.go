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

// Package errcode is the coded-error surface shared by every package of this
// module. The CodeError/Error machinery itself is not reimplemented here: it
// is re-exported from github.com/nabbar/golib/errors, which already gives
// this runtime everything it needs (a CodeError constructed into a chained,
// errors.Is/As-compatible Error) without carrying a second copy of that
// machinery in this tree. What this package owns is purely local: the
// per-package MinPkgXxx code ranges in modules.go.
package errcode

import (
	golibErrors "github.com/nabbar/golib/errors"
)

type (
	// CodeError is a numeric error code, similar in spirit to an HTTP status code.
	CodeError = golibErrors.CodeError

	// Error is the module-wide error type: a standard error enriched with a
	// code and a parent chain, staying compatible with errors.Is/errors.As.
	Error = golibErrors.Error

	// Message generates an error message for a given code.
	Message = golibErrors.Message
)

// RegisterIdFctMessage registers the message function owning the range starting at minCode.
func RegisterIdFctMessage(minCode CodeError, fct Message) {
	golibErrors.RegisterIdFctMessage(minCode, fct)
}

// Newf builds a chained Error from a code and a printf-style pattern, for the
// cases where the message needs runtime-supplied detail (e.g. naming the
// undeclared event a Fire was attempted against).
func Newf(code uint16, pattern string, args ...interface{}) Error {
	return golibErrors.Newf(code, pattern, args...)
}
