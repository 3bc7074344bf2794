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

package tcp_test

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/nabbar/aionet/consumer"
	"github.com/nabbar/aionet/protocol"
	"github.com/nabbar/aionet/server/tcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// consumerTransport exposes the protocol.Transport a consumer's underlying
// connection is attached to, so echoHandler can write its reply directly to
// the socket rather than only returning residual bytes.
type consumerTransport interface {
	Transport() protocol.Transport
}

func (h *echoHandler) write(data []byte) {
	conn := h.c.Connection()
	if t, ok := conn.(consumerTransport); ok {
		if tr := t.Transport(); tr != nil {
			_, _ = tr.Write(data)
			return
		}
	}
	if h.tr != nil {
		_, _ = h.tr.Write(data)
	}
}

func newEchoFactory() func() *consumer.Consumer {
	return func() *consumer.Consumer {
		h := &echoHandler{}
		return consumer.New(nil, h)
	}
}

var _ = Describe("Server", func() {
	var (
		srv *tcp.Server
		ctx context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		srv = tcp.New(nil, nil, "tcp", "127.0.0.1:0", 0, 0, newEchoFactory())
	})

	AfterEach(func() {
		_ = srv.Close(ctx)
	})

	It("binds a listener and fires start", func() {
		fired := false
		_ = srv.Events().Bind("start", func(args []interface{}, err error) {
			fired = true
		})

		Expect(srv.StartServing(ctx, nil)).To(Succeed())
		Expect(fired).To(BeTrue())
		Expect(srv.Info()["address"]).ToNot(BeEmpty())
	})

	It("echoes a line back over a real loopback connection", func() {
		Expect(srv.StartServing(ctx, nil)).To(Succeed())

		addr := srv.Info()["address"].(string)
		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("hello world\n"))
		Expect(err).ToNot(HaveOccurred())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(line).To(Equal("hello world\n"))

		Eventually(func() uint64 {
			return srv.Info()["requests_total"].(uint64)
		}, time.Second).Should(Equal(uint64(1)))
	})

	It("stops accepting new connections on StopServing while leaving open ones alive", func() {
		Expect(srv.StartServing(ctx, nil)).To(Succeed())

		addr := srv.Info()["address"].(string)
		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		Eventually(srv.OpenCount).Should(Equal(1))

		Expect(srv.StopServing()).To(Succeed())

		_, err = conn.Write([]byte("still alive\n"))
		Expect(err).ToNot(HaveOccurred())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).ToNot(HaveOccurred())
		Expect(line).To(Equal("still alive\n"))

		_, err = net.Dial("tcp", addr)
		Expect(err).To(HaveOccurred())
	})

	It("drains open connections and fires stop on Close", func() {
		Expect(srv.StartServing(ctx, nil)).To(Succeed())

		addr := srv.Info()["address"].(string)
		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		Eventually(srv.OpenCount).Should(Equal(1))

		stopped := false
		_ = srv.Events().Bind("stop", func(args []interface{}, err error) {
			stopped = true
		})

		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		Expect(srv.Close(cctx)).To(Succeed())

		Expect(stopped).To(BeTrue())
		Expect(srv.OpenCount()).To(Equal(0))
	})

	It("gates new connections once max_connections is reached", func() {
		gated := tcp.New(nil, nil, "tcp", "127.0.0.1:0", 0, 1, newEchoFactory())
		Expect(gated.StartServing(ctx, nil)).To(Succeed())
		defer gated.Close(context.Background())

		addr := gated.Info()["address"].(string)
		conn, err := net.Dial("tcp", addr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		Eventually(func() error {
			_, derr := net.DialTimeout("tcp", addr, 200*time.Millisecond)
			return derr
		}, time.Second).Should(HaveOccurred())
	})
})
