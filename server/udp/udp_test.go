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

package udp_test

import (
	"context"
	"net"
	"time"

	"github.com/nabbar/aionet/server/udp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		srv   *udp.Server
		h     *echoDatagramHandler
		ctx   context.Context
		built int
	)

	BeforeEach(func() {
		ctx = context.Background()
		h = nil
		built = 0
		srv = udp.New(nil, "udp", "127.0.0.1:0", func(producer interface{}) udp.Handler {
			built++
			h = newEchoDatagramHandler(producer)
			return h
		})
	})

	AfterEach(func() {
		_ = srv.Close()
	})

	It("binds the endpoint and fires start", func() {
		fired := false
		_ = srv.Events().Bind("start", func(args []interface{}, err error) {
			fired = true
		})

		Expect(srv.CreateEndpoint(ctx)).To(Succeed())
		Expect(fired).To(BeTrue())
		Expect(srv.Info()["address"]).ToNot(BeEmpty())
	})

	It("builds exactly one handler for the endpoint and echoes packets back", func() {
		Expect(srv.CreateEndpoint(ctx)).To(Succeed())

		addr := srv.Info()["address"].(string)
		raddr, err := net.ResolveUDPAddr("udp", addr)
		Expect(err).ToNot(HaveOccurred())

		conn, err := net.DialUDP("udp", nil, raddr)
		Expect(err).ToNot(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte("ping"))
		Expect(err).ToNot(HaveOccurred())

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		buf := make([]byte, 16)
		n, err := conn.Read(buf)
		Expect(err).ToNot(HaveOccurred())
		Expect(string(buf[:n])).To(Equal("ping"))

		_, err = conn.Write([]byte("pong"))
		Expect(err).ToNot(HaveOccurred())

		Eventually(func() int {
			if h == nil {
				return 0
			}
			return h.count()
		}, time.Second).Should(Equal(2))
		Expect(built).To(Equal(1))

		Eventually(func() uint64 {
			return srv.Info()["packets_total"].(uint64)
		}, time.Second).Should(Equal(uint64(2)))
	})

	It("fires stop and releases the socket on Close", func() {
		Expect(srv.CreateEndpoint(ctx)).To(Succeed())

		stopped := false
		_ = srv.Events().Bind("stop", func(args []interface{}, err error) {
			stopped = true
		})

		Expect(srv.Close()).To(Succeed())
		Expect(stopped).To(BeTrue())

		_, err := srv.WriteTo([]byte("x"), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1})
		Expect(err).To(HaveOccurred())
	})

	It("reports ErrorAlreadyServing on a second CreateEndpoint", func() {
		Expect(srv.CreateEndpoint(ctx)).To(Succeed())
		Expect(srv.CreateEndpoint(ctx)).To(HaveOccurred())
	})
})
