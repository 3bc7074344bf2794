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

package natschan_test

import (
	"sync"
	"time"

	"github.com/nabbar/aionet/pubsub"
	"github.com/nabbar/aionet/pubsub/natschan"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Backend", func() {
	var (
		srv  *server.Server
		conn *nats.Conn
	)

	BeforeEach(func() {
		var url string
		srv, url = startEmbeddedServer()
		conn = dial(url)
	})

	AfterEach(func() {
		conn.Close()
		srv.Shutdown()
	})

	It("rejects a nil connection", func() {
		b, err := natschan.New(nil, nil)
		Expect(err).To(HaveOccurred())
		Expect(b).To(BeNil())
	})

	It("delivers a published message through PubSub.Broadcast", func() {
		var mu sync.Mutex
		var received []string
		var ps *pubsub.PubSub

		backend, err := natschan.New(conn, func(channel string, payload []byte) {
			if ps != nil {
				ps.Broadcast(channel, payload)
			}
		})
		Expect(err).ToNot(HaveOccurred())

		ps = pubsub.New(nil, backend, nil)
		_ = ps.AddClient(func(channel string, message []byte) error {
			mu.Lock()
			received = append(received, channel+":"+string(message))
			mu.Unlock()
			return nil
		})

		Expect(ps.Subscribe("room1")).To(Succeed())
		_, err = ps.Publish("room1", []byte("hello"))
		Expect(err).ToNot(HaveOccurred())

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), received...)
		}, time.Second).Should(Equal([]string{"room1:hello"}))
	})

	It("matches wildcard subjects through PSubscribe", func() {
		var mu sync.Mutex
		var received []string

		backend, err := natschan.New(conn, func(_ string, payload []byte) {
			mu.Lock()
			received = append(received, string(payload))
			mu.Unlock()
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(backend.PSubscribe("orders.*")).To(Succeed())
		Expect(conn.Flush()).To(Succeed())

		pub, err := nats.Connect(conn.ConnectedUrl())
		Expect(err).ToNot(HaveOccurred())
		defer pub.Close()

		Expect(pub.Publish("orders.42", []byte("x"))).To(Succeed())
		Expect(pub.Flush()).To(Succeed())

		Eventually(func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), received...)
		}, time.Second).Should(Equal([]string{"x"}))
	})

	It("stops delivering after Unsubscribe", func() {
		var mu sync.Mutex
		count := 0

		backend, err := natschan.New(conn, func(string, []byte) {
			mu.Lock()
			count++
			mu.Unlock()
		})
		Expect(err).ToNot(HaveOccurred())

		Expect(backend.Subscribe("room1")).To(Succeed())
		Expect(backend.Unsubscribe("room1")).To(Succeed())

		_, err = backend.Publish("room1", []byte("x"))
		Expect(err).ToNot(HaveOccurred())
		Expect(conn.Flush()).To(Succeed())

		time.Sleep(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		Expect(count).To(Equal(0))
	})
})
