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

package connection_test

import (
	"net"

	"github.com/nabbar/aionet/connection"
	"github.com/nabbar/aionet/consumer"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fakeTransport struct {
	peer net.Addr
}

func (f *fakeTransport) Write(p []byte) (int, error)  { return len(p), nil }
func (f *fakeTransport) Close() error                 { return nil }
func (f *fakeTransport) Abort() error                 { return nil }
func (f *fakeTransport) Closing() bool                { return false }
func (f *fakeTransport) Extra(key string) interface{} {
	if key == "peername" {
		return f.peer
	}
	return nil
}

var _ = Describe("Connection", func() {
	peer := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5555}

	It("builds a fresh consumer lazily when the slot is empty", func() {
		var hs []*echoLineHandler
		c := connection.New(1, nil, 0, nil, nil, newEchoConsumerFactory(&hs))

		first := c.CurrentConsumer()
		second := c.CurrentConsumer()

		Expect(first).To(BeIdenticalTo(second))
	})

	It("serves two pipelined requests from a single chunk as two consumers", func() {
		var hs []*echoLineHandler
		c := connection.New(1, nil, 0, nil, nil, newEchoConsumerFactory(&hs))
		c.ConnectionMade(&fakeTransport{peer: peer})

		err := c.DataReceived([]byte("hi\nyo\n"))

		Expect(err).To(BeNil())
		Expect(hs).To(HaveLen(2))
		Expect(hs[0].lines).To(ConsistOf([]byte("hi\n")))
		Expect(hs[1].lines).To(ConsistOf([]byte("yo\n")))
	})

	It("rejects SetConsumer while the slot is occupied", func() {
		var hs []*echoLineHandler
		factory := newEchoConsumerFactory(&hs)
		c := connection.New(1, nil, 0, nil, nil, factory)

		first := c.CurrentConsumer()
		err := c.SetConsumer(factory())

		Expect(err).To(HaveOccurred())
		Expect(c.CurrentConsumer()).To(BeIdenticalTo(first))
	})

	It("forwards connection_lost to the current consumer", func() {
		var hs []*echoLineHandler
		c := connection.New(1, nil, 0, nil, nil, newEchoConsumerFactory(&hs))

		cur := c.CurrentConsumer()
		var got error
		cur.OnFinished(func(args []interface{}, err error) {
			got = err
		})

		c.ConnectionMade(&fakeTransport{peer: peer})
		cause := net.ErrClosed
		c.ConnectionLost(cause)

		Expect(got).To(MatchError(cause))
	})

	It("applies an upgraded factory only after the active consumer finishes", func() {
		var hs []*echoLineHandler
		c := connection.New(1, nil, 0, nil, nil, newEchoConsumerFactory(&hs))

		cur := c.CurrentConsumer()

		upgraded := false
		c.Upgrade(func() *consumer.Consumer {
			upgraded = true
			return consumer.New(nil, &echoLineHandler{})
		})

		_ = cur.Start(nil)
		cur.Finished(nil)

		Expect(upgraded).To(BeFalse())

		_ = c.CurrentConsumer()
		Expect(upgraded).To(BeTrue())
	})
})
