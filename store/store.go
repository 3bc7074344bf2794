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

// Package store is the thin external-collaborator surface for a pluggable
// data-store layer built on top of the protocol runtime: a URL grammar, a
// registry keyed by scheme, and the Store/PubSub interfaces a concrete
// implementation (redis, couchdb, ...) must satisfy. No concrete store
// ships in this package.
package store

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/nabbar/aionet/errcode"
	"github.com/nabbar/aionet/pubsub"
)

const (
	ErrorEmptyURL errcode.CodeError = iota + errcode.MinPkgStore
	ErrorMissingScheme
	ErrorTooManyAt
	ErrorHalfCredentials
	ErrorDatabaseSlash
	ErrorFragmentNotAllowed
	ErrorUnknownScheme
	ErrorBadPort
)

func init() {
	errcode.RegisterIdFctMessage(ErrorEmptyURL, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorEmptyURL:
		return "store url must not be empty"
	case ErrorMissingScheme:
		return "store url must declare a scheme"
	case ErrorTooManyAt:
		return "store url must contain at most one '@'"
	case ErrorHalfCredentials:
		return "store url user and password must both be present or both absent"
	case ErrorDatabaseSlash:
		return "store url database path must not contain '/'"
	case ErrorFragmentNotAllowed:
		return "store url must not have a fragment"
	case ErrorUnknownScheme:
		return "no store registered for this scheme"
	case ErrorBadPort:
		return "store url port is not a valid integer"
	}
	return ""
}

// URL is the parsed form of a store connection string:
//
//	scheme://[user:password@]host[:port][/database][?k=v&...]
type URL struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Params   map[string]string
}

// ParseURL parses a store connection string per the grammar above. The empty
// host of a bare "pulsar://" is resolved to 127.0.0.1:0, matching the
// original store client's bootstrap default for its own loopback transport.
func ParseURL(raw string) (*URL, errcode.Error) {
	if raw == "" {
		return nil, ErrorEmptyURL.Error()
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, ErrorMissingScheme.Error(err)
	}
	if u.Scheme == "" {
		return nil, ErrorMissingScheme.Error()
	}
	if u.Fragment != "" {
		return nil, ErrorFragmentNotAllowed.Error()
	}

	out := &URL{
		Scheme: u.Scheme,
		Params: make(map[string]string),
	}

	if strings.Count(raw, "@") > 1 {
		return nil, ErrorTooManyAt.Error()
	}

	host := u.Host
	if u.User != nil {
		user := u.User.Username()
		pass, hasPass := u.User.Password()
		if (user == "") != (!hasPass) {
			return nil, ErrorHalfCredentials.Error()
		}
		out.User = user
		out.Password = pass
	}

	if out.Scheme == "pulsar" && host == "" {
		host = "127.0.0.1:0"
	}

	if h, p, splitErr := splitHostPort(host); splitErr != nil {
		return nil, ErrorBadPort.Error(splitErr)
	} else {
		out.Host = h
		out.Port = p
	}

	if u.Path != "" {
		db := strings.TrimPrefix(u.Path, "/")
		if strings.Contains(db, "/") {
			return nil, ErrorDatabaseSlash.Error()
		}
		out.Database = db
	}

	q := u.Query()
	for k := range q {
		out.Params[k] = q.Get(k)
	}

	return out, nil
}

// splitHostPort splits "host:port" into its parts. A host with no ':' (and
// thus no port) is returned with port 0, matching the Python source's bare
// host tuple when no port segment was present.
func splitHostPort(host string) (string, int, error) {
	if host == "" {
		return "", 0, nil
	}
	idx := strings.LastIndex(host, ":")
	if idx < 0 {
		return host, 0, nil
	}
	port, err := strconv.Atoi(host[idx+1:])
	if err != nil {
		return "", 0, err
	}
	return host[:idx], port, nil
}

// BuildURL is the inverse of ParseURL: it reconstitutes a connection string
// from a registered store's identity. When declaredScheme is non-empty it is
// preferred over runtimeName, producing "declaredScheme+runtimeName" as the
// wire scheme — the resolution adopted for the historical ambiguity between
// a store class's fixed scheme and its runtime-assigned name.
func BuildURL(declaredScheme, runtimeName string, u *URL) string {
	scheme := runtimeName
	if declaredScheme != "" {
		scheme = declaredScheme + "+" + runtimeName
	}

	host := u.Host
	if u.Port != 0 {
		host = host + ":" + strconv.Itoa(u.Port)
	}
	if u.User != "" {
		host = u.User + ":" + u.Password + "@" + host
	}

	path := ""
	if u.Database != "" {
		path = "/" + u.Database
	}

	query := make(url.Values)
	for k, v := range u.Params {
		query.Set(k, v)
	}

	out := scheme + "://" + host + path
	if encoded := query.Encode(); encoded != "" {
		out += "?" + encoded
	}
	return out
}

// Store is the contract a concrete data-store implementation must satisfy.
// No concrete store ships in this module; this is the external-collaborator
// surface the protocol runtime's pub/sub and connection primitives are built
// to support.
type Store interface {
	// Scheme is the store's declared scheme, preferred by BuildURL over its
	// runtime name when composing a canonical connection string. Empty if
	// the store has none.
	Scheme() string
	Connect(ctx context.Context) error
	Execute(ctx context.Context, args ...interface{}) (interface{}, error)
	Ping(ctx context.Context) error
	PubSub() (*pubsub.PubSub, error)
	Close() error
}

// Factory builds a Store from its parsed connection URL.
type Factory func(u *URL) (Store, error)

// Registry looks up a Factory by URL scheme.
type Registry struct {
	m sync.RWMutex
	f map[string]Factory
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{f: make(map[string]Factory)}
}

// Register associates scheme with factory. A later call for the same scheme
// replaces the earlier registration.
func (r *Registry) Register(scheme string, factory Factory) {
	r.m.Lock()
	defer r.m.Unlock()
	r.f[scheme] = factory
}

// Schemes lists the currently registered schemes, sorted.
func (r *Registry) Schemes() []string {
	r.m.RLock()
	defer r.m.RUnlock()

	out := make([]string, 0, len(r.f))
	for s := range r.f {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open parses raw and builds a Store via the factory registered for its
// scheme. An unknown scheme is a Misconfiguration error, surfaced
// synchronously at startup rather than as a later connection failure.
func (r *Registry) Open(raw string) (Store, errcode.Error) {
	u, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}

	r.m.RLock()
	factory, ok := r.f[u.Scheme]
	r.m.RUnlock()

	if !ok {
		return nil, ErrorUnknownScheme.Error(fmt.Errorf("scheme %q", u.Scheme))
	}

	s, buildErr := factory(u)
	if buildErr != nil {
		return nil, ErrorUnknownScheme.Error(buildErr)
	}
	return s, nil
}
