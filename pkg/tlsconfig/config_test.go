package tlsconfig

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSigned returns a PEM certificate and key
func selfSigned(t *testing.T) ([]byte, []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "TestCA", Organization: []string{"Test"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"disabled config is valid", Config{CACert: "a", CACertData: "b"}, false},
		{"basic TLS config is valid", Config{Enabled: true, InsecureSkipVerify: true}, false},
		{"both ca_cert and ca_cert_data", Config{Enabled: true, CACert: "/ca.pem", CACertData: "pem"}, true},
		{"both client_cert and client_cert_data", Config{Enabled: true, ClientCert: "/c.pem", ClientCertData: "pem", ClientKey: "/k.pem"}, true},
		{"both client_key and client_key_data", Config{Enabled: true, ClientCert: "/c.pem", ClientKey: "/k.pem", ClientKeyData: "pem"}, true},
		{"cert without key", Config{Enabled: true, ClientCert: "/c.pem"}, true},
		{"key without cert", Config{Enabled: true, ClientKeyData: "pem"}, true},
		{"invalid min version", Config{Enabled: true, MinVersion: "2.0"}, true},
		{"invalid max version", Config{Enabled: true, MaxVersion: "1.4"}, true},
		{"min above max", Config{Enabled: true, MinVersion: "1.3", MaxVersion: "1.2"}, true},
		{"valid version range", Config{Enabled: true, MinVersion: "1.2", MaxVersion: "1.3"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_NewTLSConfig(t *testing.T) {
	t.Run("disabled returns nil", func(t *testing.T) {
		config := Config{}
		tlsConfig, err := config.NewTLSConfig()
		require.NoError(t, err)
		assert.Nil(t, tlsConfig)
	})

	t.Run("defaults", func(t *testing.T) {
		config := Config{Enabled: true, InsecureSkipVerify: true, ServerName: "example.com"}
		tlsConfig, err := config.NewTLSConfig()
		require.NoError(t, err)
		require.NotNil(t, tlsConfig)
		assert.True(t, tlsConfig.InsecureSkipVerify)
		assert.Equal(t, "example.com", tlsConfig.ServerName)
		assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
	})

	t.Run("version range", func(t *testing.T) {
		config := Config{Enabled: true, MinVersion: "1.3", MaxVersion: "1.3"}
		tlsConfig, err := config.NewTLSConfig()
		require.NoError(t, err)
		assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MinVersion)
		assert.Equal(t, uint16(tls.VersionTLS13), tlsConfig.MaxVersion)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		config := Config{Enabled: true, MinVersion: "9"}
		_, err := config.NewTLSConfig()
		assert.Error(t, err)
	})

	t.Run("mutual TLS from data", func(t *testing.T) {
		certPEM, keyPEM := selfSigned(t)
		config := Config{
			Enabled:        true,
			CACertData:     string(certPEM),
			ClientCertData: string(certPEM),
			ClientKeyData:  string(keyPEM),
		}
		tlsConfig, err := config.NewTLSConfig()
		require.NoError(t, err)
		assert.NotNil(t, tlsConfig.RootCAs)
		assert.Len(t, tlsConfig.Certificates, 1)
	})
}

func TestConfig_LoadCACertPool(t *testing.T) {
	certPEM, _ := selfSigned(t)
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, certPEM, 0600))

	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"load from file", Config{Enabled: true, CACert: caFile}, false},
		{"load from data", Config{Enabled: true, CACertData: string(certPEM)}, false},
		{"missing file", Config{Enabled: true, CACert: filepath.Join(t.TempDir(), "nope.pem")}, true},
		{"no certificate provided", Config{Enabled: true}, true},
		{"invalid certificate", Config{Enabled: true, CACertData: "invalid certificate data"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool, err := tt.config.loadCACertPool()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, pool)
		})
	}
}

func TestConfig_LoadClientCertificateMismatch(t *testing.T) {
	certPEM, _ := selfSigned(t)
	_, otherKey := selfSigned(t)

	config := Config{Enabled: true, ClientCertData: string(certPEM), ClientKeyData: string(otherKey)}
	_, err := config.loadClientCertificate()
	assert.Error(t, err)
}
