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

package sockstate_test

import (
	"errors"

	. "github.com/nabbar/aionet/sockstate"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("ConnState", func() {
	It("names every declared state", func() {
		Expect(ConnectionDial.String()).To(Equal("Dial Connection"))
		Expect(ConnectionNew.String()).To(Equal("New Connection"))
		Expect(ConnectionRead.String()).To(Equal("Read Incoming Stream"))
		Expect(ConnectionCloseRead.String()).To(Equal("Close Incoming Stream"))
		Expect(ConnectionHandler.String()).To(Equal("Run HandlerFunc"))
		Expect(ConnectionWrite.String()).To(Equal("Write Outgoing Steam"))
		Expect(ConnectionCloseWrite.String()).To(Equal("Close Outgoing Stream"))
		Expect(ConnectionClose.String()).To(Equal("Close Connection"))
	})

	It("falls back to unknown for an undeclared value", func() {
		Expect(ConnState(99).String()).To(Equal("unknown connection state"))
	})
})

var _ = Describe("ErrorFilter", func() {
	It("nils out the exact network-closed message", func() {
		Expect(ErrorFilter(errors.New("use of closed network connection"))).To(BeNil())
	})

	It("does not filter a message that only contains that phrase as a substring", func() {
		err := errors.New("read tcp 127.0.0.1:8080->127.0.0.1:54321: use of closed network connection")
		Expect(ErrorFilter(err)).To(Equal(err))
	})

	It("passes nil through unchanged", func() {
		Expect(ErrorFilter(nil)).To(BeNil())
	})

	It("passes an unrelated error through unchanged", func() {
		err := errors.New("boom")
		Expect(ErrorFilter(err)).To(Equal(err))
	})
})
