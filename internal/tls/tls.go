// Package tls builds the client TLS configuration of the radio and
// storage connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io/ioutil"

	"github.com/pkg/errors"
)

// NewClientConfig returns the client TLS configuration for the given CA
// certificate and (optional) client certificate. It returns nil when none
// of the files are set.
func NewClientConfig(caCert, tlsCert, tlsKey string) (*tls.Config, error) {
	if caCert == "" && tlsCert == "" && tlsKey == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{}

	if caCert != "" {
		rawCACert, err := ioutil.ReadFile(caCert)
		if err != nil {
			return nil, errors.Wrap(err, "load ca certificate error")
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(rawCACert) {
			return nil, fmt.Errorf("append ca certificate error: %s", caCert)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if tlsCert != "" || tlsKey != "" {
		cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
		if err != nil {
			return nil, errors.Wrap(err, "load tls key-pair error")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}
