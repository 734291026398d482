package security

import (
	"crypto/x509"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCertAuthority(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)

	root := ca.RootCert()
	assert.True(t, root.IsCA)
	assert.Equal(t, "Burrow Root CA", root.Subject.CommonName)
	assert.True(t, root.NotAfter.After(time.Now().Add(rootCAValidity-time.Hour)))
}

func TestIssueServerCertificate(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)

	cert, err := ca.IssueServerCertificate([]string{"master.example.com", "127.0.0.1"})
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)

	assert.Equal(t, []string{"master.example.com"}, cert.Leaf.DNSNames)
	require.Len(t, cert.Leaf.IPAddresses, 1)
	assert.True(t, cert.Leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")))
	assert.False(t, CertNeedsRotation(cert.Leaf))

	roots := x509.NewCertPool()
	roots.AddCert(ca.RootCert())
	for _, host := range []string{"master.example.com", "127.0.0.1"} {
		_, err := cert.Leaf.Verify(x509.VerifyOptions{
			DNSName:   host,
			Roots:     roots,
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		})
		assert.NoError(t, err, host)
	}
}

func TestIssueServerCertificateRequiresHosts(t *testing.T) {
	ca, err := NewCertAuthority()
	require.NoError(t, err)

	_, err = ca.IssueServerCertificate(nil)
	assert.Error(t, err)
}

func TestCertNeedsRotation(t *testing.T) {
	tests := []struct {
		name string
		cert *x509.Certificate
		want bool
	}{
		{"nil", nil, true},
		{"fresh", &x509.Certificate{NotAfter: time.Now().Add(90 * 24 * time.Hour)}, false},
		{"expiring", &x509.Certificate{NotAfter: time.Now().Add(10 * 24 * time.Hour)}, true},
		{"expired", &x509.Certificate{NotAfter: time.Now().Add(-time.Hour)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CertNeedsRotation(tt.cert))
		})
	}
}
