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

// Package config holds validated, URL-less configuration structs for the
// servers and client connections this runtime builds: how an operator
// configures a bound socket, distinct from store's URL grammar for a remote
// data-store/pubsub endpoint.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	validator "github.com/go-playground/validator/v10"

	"github.com/nabbar/aionet/certkit"
	"github.com/nabbar/aionet/errcode"
)

const (
	ErrorValidation errcode.CodeError = iota + errcode.MinPkgConfig
)

func init() {
	errcode.RegisterIdFctMessage(ErrorValidation, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorValidation:
		return "config failed validation"
	}
	return ""
}

const (
	NetworkTCP  = "tcp"
	NetworkTCP4 = "tcp4"
	NetworkTCP6 = "tcp6"
	NetworkUDP  = "udp"
	NetworkUDP4 = "udp4"
	NetworkUDP6 = "udp6"
)

// TLS is the opt-in TLS attachment shared by Client and Server: Enabled
// gates whether Config is consulted at all, the way the teacher's
// socket/config does.
type TLS struct {
	Enabled bool            `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Config  *certkit.Config `mapstructure:"config" json:"config" yaml:"config" validate:"required_if=Enabled true"`
}

// Server is how an operator configures a bound socket for server/tcp or
// server/udp: network family, address, an optional TLS attachment, and the
// idle-timeout/max-connection knobs those packages take as constructor
// arguments.
type Server struct {
	Network   string        `mapstructure:"network" json:"network" yaml:"network" validate:"required,oneof=tcp tcp4 tcp6 udp udp4 udp6"`
	Address   string        `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
	TLS       TLS           `mapstructure:"tls" json:"tls" yaml:"tls"`
	MaxConn   int           `mapstructure:"maxConn" json:"maxConn" yaml:"maxConn" validate:"gte=0"`
	KeepAlive time.Duration `mapstructure:"keepAlive" json:"keepAlive" yaml:"keepAlive" validate:"gte=0"`
	Backlog   int           `mapstructure:"backlog" json:"backlog" yaml:"backlog" validate:"gte=0"`
}

// Validate runs struct tags through go-playground/validator, then confirms
// Address actually splits into a reachable host:port pair for the declared
// Network (an empty host, as in ":8443", is allowed — it means "all
// interfaces").
func (s *Server) Validate() errcode.Error {
	if err := runValidator(s); err != nil {
		return err
	}
	return validateAddress(s.Network, s.Address)
}

// Client is how an operator configures an outbound connection built through
// producer/connection rather than accepted by server/tcp or server/udp.
type Client struct {
	Network string `mapstructure:"network" json:"network" yaml:"network" validate:"required,oneof=tcp tcp4 tcp6 udp udp4 udp6"`
	Address string `mapstructure:"address" json:"address" yaml:"address" validate:"required"`
	TLS     TLS    `mapstructure:"tls" json:"tls" yaml:"tls"`
}

func (c *Client) Validate() errcode.Error {
	if err := runValidator(c); err != nil {
		return err
	}
	return validateAddress(c.Network, c.Address)
}

func runValidator(s interface{}) errcode.Error {
	er := validator.New().Struct(s)
	if er == nil {
		return nil
	}

	if ve, ok := er.(validator.ValidationErrors); ok {
		var out errcode.Error
		for _, f := range ve {
			out = ErrorValidation.Error(fmt.Errorf("field %q fails constraint %q", f.StructNamespace(), f.ActualTag()))
		}
		return out
	}
	return ErrorValidation.Error(er)
}

func validateAddress(network, address string) errcode.Error {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return ErrorValidation.Error(err)
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return ErrorValidation.Error(fmt.Errorf("port %q is not in range 0-65535", port))
	}

	if host != "" && net.ParseIP(host) == nil {
		if _, err := net.LookupHost(host); err != nil {
			return ErrorValidation.Error(fmt.Errorf("host %q does not resolve: %w", host, err))
		}
	}

	return nil
}
