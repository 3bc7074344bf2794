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

// Package certkit is a deliberately trimmed TLS config helper: one validated
// struct in, one *tls.Config out, handed opaquely to server/tcp.StartServing.
// It drops the teacher's cipher/curve/root-CA bundle management (session
// resumption and cipher-suite policy are explicit Non-goals here) and keeps
// only what server/tcp actually needs: a certificate pair and a minimum TLS
// version.
package certkit

import (
	"crypto/tls"
	"fmt"

	validator "github.com/go-playground/validator/v10"

	"github.com/nabbar/aionet/errcode"
)

const (
	ErrorValidation errcode.CodeError = iota + errcode.MinPkgCertKit
	ErrorLoadKeyPair
)

func init() {
	errcode.RegisterIdFctMessage(ErrorValidation, getMessage)
}

func getMessage(code errcode.CodeError) string {
	switch code {
	case ErrorValidation:
		return "certkit config failed validation"
	case ErrorLoadKeyPair:
		return "failed to load certificate/key pair"
	}
	return ""
}

// Config is the minimal certificate-pair-plus-version-floor TLS
// configuration this runtime needs; InheritDefault composes it on top of a
// package-level Default the way the teacher's certificates.Config does.
type Config struct {
	CertFile       string             `mapstructure:"certFile" json:"certFile" yaml:"certFile" validate:"required_without=CertPEM"`
	KeyFile        string             `mapstructure:"keyFile" json:"keyFile" yaml:"keyFile" validate:"required_without=KeyPEM"`
	CertPEM        []byte             `mapstructure:"certPEM" json:"-" yaml:"-" validate:"required_without=CertFile"`
	KeyPEM         []byte             `mapstructure:"keyPEM" json:"-" yaml:"-" validate:"required_without=KeyFile"`
	ClientAuth     tls.ClientAuthType `mapstructure:"clientAuth" json:"clientAuth" yaml:"clientAuth"`
	VersionMin     uint16             `mapstructure:"versionMin" json:"versionMin" yaml:"versionMin"`
	InheritDefault bool               `mapstructure:"inheritDefault" json:"inheritDefault" yaml:"inheritDefault"`
}

// Default is the package-level fallback a Config with InheritDefault set
// composes onto, mirroring the teacher's certificates.Default variable.
var Default = &Config{VersionMin: tls.VersionTLS12}

// Validate runs struct tags through go-playground/validator and wraps any
// failure as a single chained errcode.Error.
func (c *Config) Validate() errcode.Error {
	if er := validator.New().Struct(c); er != nil {
		err := ErrorValidation.Error(nil)
		if ve, ok := er.(validator.ValidationErrors); ok {
			for _, f := range ve {
				err = ErrorValidation.Error(fmt.Errorf("field %q fails constraint %q", f.StructNamespace(), f.ActualTag()))
			}
			return err
		}
		return ErrorValidation.Error(er)
	}
	return nil
}

// TLSConfig validates c, loads the certificate pair (from files if given,
// else from the inline PEM bytes) and returns a *tls.Config ready to hand to
// tls.NewListener. Non-goal: no session-resumption/cipher-suite policy.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var (
		cert tls.Certificate
		err  error
	)

	if c.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	} else {
		cert, err = tls.X509KeyPair(c.CertPEM, c.KeyPEM)
	}
	if err != nil {
		return nil, ErrorLoadKeyPair.Error(err)
	}

	minVer := c.VersionMin
	if minVer == 0 && c.InheritDefault && Default != nil {
		minVer = Default.VersionMin
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   c.ClientAuth,
		MinVersion:   minVer,
	}, nil
}
