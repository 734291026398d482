package security

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Certificate rotation threshold: rotate when less than 30 days remaining
const certRotationThreshold = 30 * 24 * time.Hour

const (
	caCertName     = "ca.crt"
	caKeyName      = "ca.key"
	serverCertName = "server.crt"
	serverKeyName  = "server.key"
)

// TLSFiles locates the PEM files of a generated certificate set
type TLSFiles struct {
	CertFile string
	KeyFile  string
	CAFile   string
}

// EnsureServerCertificate makes sure dir holds a CA and a serving
// certificate for hosts. The CA is created once and reused; the serving
// certificate is reissued when missing or close to expiry.
func EnsureServerCertificate(dir string, hosts []string) (*TLSFiles, error) {
	files := &TLSFiles{
		CertFile: filepath.Join(dir, serverCertName),
		KeyFile:  filepath.Join(dir, serverKeyName),
		CAFile:   filepath.Join(dir, caCertName),
	}

	ca, err := LoadCertAuthority(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if ca, err = NewCertAuthority(); err != nil {
			return nil, err
		}
		if err := ca.Save(dir); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if existing, err := LoadCertFromFile(files.CertFile, files.KeyFile); err == nil && !CertNeedsRotation(existing.Leaf) {
		return files, nil
	}

	cert, err := ca.IssueServerCertificate(hosts)
	if err != nil {
		return nil, err
	}
	if err := SaveCertToFile(cert, files.CertFile, files.KeyFile); err != nil {
		return nil, err
	}
	return files, nil
}

// Save writes the CA certificate and key to dir
func (ca *CertAuthority) Save(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(ca.rootKey)
	if err != nil {
		return fmt.Errorf("failed to marshal CA key: %w", err)
	}

	if err := writePEM(filepath.Join(dir, caCertName), "CERTIFICATE", ca.rootCert.Raw, 0644); err != nil {
		return err
	}
	return writePEM(filepath.Join(dir, caKeyName), "EC PRIVATE KEY", keyDER, 0600)
}

// LoadCertAuthority reads a CA saved by Save. A missing CA yields an error
// matching fs.ErrNotExist.
func LoadCertAuthority(dir string) (*CertAuthority, error) {
	certBlock, err := readPEM(filepath.Join(dir, caCertName), "CERTIFICATE")
	if err != nil {
		return nil, err
	}
	keyBlock, err := readPEM(filepath.Join(dir, caKeyName), "EC PRIVATE KEY")
	if err != nil {
		return nil, err
	}

	rootCert, err := x509.ParseCertificate(certBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}
	rootKey, err := x509.ParseECPrivateKey(keyBlock)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	return &CertAuthority{rootCert: rootCert, rootKey: rootKey}, nil
}

// SaveCertToFile saves a TLS certificate and its key as PEM files
func SaveCertToFile(cert *tls.Certificate, certFile, keyFile string) error {
	if err := os.MkdirAll(filepath.Dir(certFile), 0700); err != nil {
		return fmt.Errorf("failed to create cert directory: %w", err)
	}

	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return fmt.Errorf("private key is not ECDSA")
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}

	if err := writePEM(certFile, "CERTIFICATE", cert.Certificate[0], 0644); err != nil {
		return err
	}
	return writePEM(keyFile, "EC PRIVATE KEY", keyDER, 0600)
}

// LoadCertFromFile loads a TLS certificate with its Leaf populated
func LoadCertFromFile(certFile, keyFile string) (*tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate: %w", err)
	}

	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}
	return &cert, nil
}

// CertNeedsRotation returns true if the certificate should be rotated
// This happens when less than 30 days remain until expiry
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readPEM(path, blockType string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != blockType {
		return nil, fmt.Errorf("failed to decode %s", filepath.Base(path))
	}
	return block.Bytes, nil
}
