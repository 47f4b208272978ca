// Package tlsconfig builds client TLS settings for appenders that dial out.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Config represents client TLS configuration options
type Config struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// Server certificate validation
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"` // development only
	CACert             string `yaml:"ca_cert,omitempty"`              // path to CA certificate file
	CACertData         string `yaml:"ca_cert_data,omitempty"`         // inline PEM

	// Client certificate for mutual TLS
	ClientCert     string `yaml:"client_cert,omitempty"`
	ClientCertData string `yaml:"client_cert_data,omitempty"`
	ClientKey      string `yaml:"client_key,omitempty"`
	ClientKeyData  string `yaml:"client_key_data,omitempty"`

	MinVersion string `yaml:"min_version,omitempty"` // "1.0" to "1.3", default "1.2"
	MaxVersion string `yaml:"max_version,omitempty"`
	ServerName string `yaml:"server_name,omitempty"` // SNI override
}

// readPEM resolves a file/inline pair. Validate rejects configs setting both.
func readPEM(what, path, data string) ([]byte, error) {
	switch {
	case path != "":
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s file: %w", what, err)
		}
		return b, nil
	case data != "":
		return []byte(data), nil
	default:
		return nil, fmt.Errorf("no %s provided", what)
	}
}

// NewTLSConfig creates a *tls.Config, or nil when TLS is disabled
func (c *Config) NewTLSConfig() (*tls.Config, error) {
	if !c.Enabled {
		return nil, nil
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.InsecureSkipVerify {
		zap.L().Named("tls").Warn("certificate verification disabled; use only in development",
			zap.String("server_name", c.ServerName))
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify, // #nosec G402 - intentionally configurable for development
		ServerName:         c.ServerName,
		MinVersion:         tls.VersionTLS12,
	}

	if c.MinVersion != "" {
		tlsConfig.MinVersion, _ = parseTLSVersion(c.MinVersion)
	}
	if c.MaxVersion != "" {
		tlsConfig.MaxVersion, _ = parseTLSVersion(c.MaxVersion)
	}

	if c.CACert != "" || c.CACertData != "" {
		pool, err := c.loadCACertPool()
		if err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
		tlsConfig.RootCAs = pool
	}

	if c.ClientCert != "" || c.ClientCertData != "" {
		cert, err := c.loadClientCertificate()
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (c *Config) loadCACertPool() (*x509.CertPool, error) {
	data, err := readPEM("CA certificate", c.CACert, c.CACertData)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("failed to parse CA certificate")
	}
	return pool, nil
}

func (c *Config) loadClientCertificate() (tls.Certificate, error) {
	certData, err := readPEM("client certificate", c.ClientCert, c.ClientCertData)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyData, err := readPEM("client key", c.ClientKey, c.ClientKeyData)
	if err != nil {
		return tls.Certificate{}, err
	}
	cert, err := tls.X509KeyPair(certData, keyData)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to load key pair: %w", err)
	}
	return cert, nil
}

func parseTLSVersion(version string) (uint16, error) {
	switch version {
	case "1.0":
		return tls.VersionTLS10, nil
	case "1.1":
		return tls.VersionTLS11, nil
	case "1.2":
		return tls.VersionTLS12, nil
	case "1.3":
		return tls.VersionTLS13, nil
	default:
		return 0, fmt.Errorf("unknown TLS version: %s (supported: 1.0, 1.1, 1.2, 1.3)", version)
	}
}

// Validate validates the TLS configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	for _, pair := range [][3]string{
		{"ca_cert", c.CACert, c.CACertData},
		{"client_cert", c.ClientCert, c.ClientCertData},
		{"client_key", c.ClientKey, c.ClientKeyData},
	} {
		if pair[1] != "" && pair[2] != "" {
			return fmt.Errorf("cannot specify both %s and %s_data", pair[0], pair[0])
		}
	}

	hasCert := c.ClientCert != "" || c.ClientCertData != ""
	hasKey := c.ClientKey != "" || c.ClientKeyData != ""
	if hasCert != hasKey {
		return errors.New("both client certificate and key must be provided for MTLS")
	}

	var minV, maxV uint16
	var err error
	if c.MinVersion != "" {
		if minV, err = parseTLSVersion(c.MinVersion); err != nil {
			return err
		}
	}
	if c.MaxVersion != "" {
		if maxV, err = parseTLSVersion(c.MaxVersion); err != nil {
			return err
		}
	}
	if minV != 0 && maxV != 0 && minV > maxV {
		return fmt.Errorf("min_version %s is above max_version %s", c.MinVersion, c.MaxVersion)
	}

	return nil
}
