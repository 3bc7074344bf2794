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

// Package sockstate carries the connection-lifecycle state enum and the
// transient-error filtering shared by the transport-facing packages
// (protocol, server/tcp, server/udp).
package sockstate

// ConnState names a step of a connection's life, reported through the
// optional FuncInfo hook so a caller can log or meter without the runtime
// hard-coding any particular observability stack.
type ConnState uint8

const (
	ConnectionDial ConnState = iota
	ConnectionNew
	ConnectionRead
	ConnectionCloseRead
	ConnectionHandler
	ConnectionWrite
	ConnectionCloseWrite
	ConnectionClose
)

func (s ConnState) String() string {
	switch s {
	case ConnectionDial:
		return "Dial Connection"
	case ConnectionNew:
		return "New Connection"
	case ConnectionRead:
		return "Read Incoming Stream"
	case ConnectionCloseRead:
		return "Close Incoming Stream"
	case ConnectionHandler:
		return "Run HandlerFunc"
	case ConnectionWrite:
		return "Write Outgoing Steam"
	case ConnectionCloseWrite:
		return "Close Outgoing Stream"
	case ConnectionClose:
		return "Close Connection"
	}

	return "unknown connection state"
}

// DefaultBufferSize is the read-buffer size used by server/tcp and
// server/udp; neither offers a setting to change it.
const DefaultBufferSize = 32 * 1024

// EOL is the line terminator consumers split incoming streams on by default.
const EOL = byte('\n')

// errClosedMessage is the exact text of the net package's "connection
// already closed" error. ErrorFilter matches it by equality, not by
// substring: a wrapped message such as "read tcp ...: use of closed network
// connection" is NOT filtered, only the bare message is.
const errClosedMessage = "use of closed network connection"

// ErrorFilter nils out err when it is exactly the network-closed error
// produced by a Read/Write racing a Close, since that is an expected
// consequence of shutdown rather than a reportable failure. Any other
// error, including one that merely contains errClosedMessage as a
// substring, is returned unchanged.
func ErrorFilter(err error) error {
	if err == nil {
		return nil
	}
	if err.Error() == errClosedMessage {
		return nil
	}
	return err
}
