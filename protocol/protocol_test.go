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

package protocol_test

import (
	"errors"
	"net"
	"time"

	"github.com/nabbar/aionet/event"
	"github.com/nabbar/aionet/protocol"
	"github.com/nabbar/aionet/sockstate"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Protocol", func() {
	var (
		peer  = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4242}
		local = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	)

	It("has no transport until ConnectionMade is called", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		Expect(p.Transport()).To(BeNil())
		Expect(p.Close()).To(Succeed())
		Expect(p.Abort()).To(Succeed())
	})

	It("infers peer and kind from the transport on ConnectionMade", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)

		p.ConnectionMade(tr)

		Expect(p.Peer()).To(Equal(net.Addr(peer)))
		Expect(p.Kind()).To(Equal(protocol.KindServer))
		Expect(p.Transport()).To(Equal(protocol.Transport(tr)))
	})

	It("infers client kind when the transport reports no peer", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(nil, local)

		p.ConnectionMade(tr)

		Expect(p.Kind()).To(Equal(protocol.KindClient))
		Expect(p.Peer()).To(Equal(net.Addr(local)))
	})

	It("fires connection_made exactly once", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)

		count := 0
		p.Events().Bind("connection_made", event.Listener(func(args []interface{}, err error) {
			count++
		}))

		p.ConnectionMade(tr)
		p.ConnectionMade(tr)

		Expect(count).To(Equal(1))
	})

	It("fires connection_lost exactly once and applies the sockstate error filter", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)
		p.ConnectionMade(tr)

		var got error
		seen := 0
		p.Events().Bind("connection_lost", event.Listener(func(args []interface{}, err error) {
			seen++
			got = err
		}))

		p.ConnectionLost(errors.New("use of closed network connection"))
		p.ConnectionLost(errors.New("boom"))

		Expect(seen).To(Equal(1))
		Expect(got).To(BeNil())
	})

	It("preserves a real connection_lost cause through the filter", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)
		p.ConnectionMade(tr)

		var got error
		p.Events().Bind("connection_lost", event.Listener(func(args []interface{}, err error) {
			got = err
		}))

		cause := errors.New("connection reset by peer")
		p.ConnectionLost(cause)

		Expect(got).To(MatchError(cause))
	})

	It("closes the transport once the idle timer fires", func() {
		p := protocol.New(1, nil, 20*time.Millisecond, nil, nil)
		tr := newFakeTransport(peer, local)

		p.ConnectionMade(tr)

		Eventually(func() bool {
			return tr.Closing()
		}, time.Second, 5*time.Millisecond).Should(BeTrue())
	})

	It("exposes the opaque producer back-reference unchanged", func() {
		type marker struct{}
		m := &marker{}

		p := protocol.New(7, m, 0, nil, nil)

		Expect(p.Producer()).To(BeIdenticalTo(m))
		Expect(p.Session()).To(Equal(uint64(7)))
	})

	It("reports session, kind and peer via Info", func() {
		p := protocol.New(3, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)
		p.ConnectionMade(tr)

		info := p.Info()

		Expect(info["session"]).To(Equal(uint64(3)))
		Expect(info["kind"]).To(Equal(protocol.KindServer))
		Expect(info["peer"]).To(Equal(peer.String()))
	})

	It("is a no-op to Close/Abort a protocol whose transport already reports closing", func() {
		p := protocol.New(1, nil, 0, nil, nil)
		tr := newFakeTransport(peer, local)
		p.ConnectionMade(tr)

		_ = tr.Close()

		Expect(p.Close()).To(Succeed())
		Expect(p.Abort()).To(Succeed())
		Expect(tr.aborted).To(BeFalse())
	})

	It("filters bare sockstate.ErrorFilter output identically to the package function", func() {
		Expect(sockstate.ErrorFilter(errors.New("use of closed network connection"))).To(BeNil())
	})
})
