package traefik

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
)

// Certificate is one certificate stored by an ACME resolver.
type Certificate struct {
	Resolver string    `json:"resolver"`
	Main     string    `json:"main"`
	SANs     []string  `json:"sans,omitempty"`
	NotAfter time.Time `json:"not_after"`
	Issuer   string    `json:"issuer"`
}

// DaysLeft returns whole days until expiry relative to now.
func (c Certificate) DaysLeft(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

type acmeStore struct {
	Certificates []struct {
		Domain struct {
			Main string   `json:"main"`
			SANs []string `json:"sans"`
		} `json:"domain"`
		Certificate string `json:"certificate"`
	} `json:"Certificates"`
}

// ReadACMECertificates reads the certificates Traefik stored in acme.json,
// sorted by resolver then main domain. A missing or empty file yields none.
func ReadACMECertificates(path string) ([]Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var stores map[string]*acmeStore
	if err := json.Unmarshal(data, &stores); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var certs []Certificate
	for resolver, store := range stores {
		if store == nil {
			continue
		}
		for _, entry := range store.Certificates {
			pemBytes, err := base64.StdEncoding.DecodeString(entry.Certificate)
			if err != nil {
				return nil, fmt.Errorf("resolver %s: certificate for %s is not base64: %w", resolver, entry.Domain.Main, err)
			}
			x509Cert, err := certcrypto.ParsePEMCertificate(pemBytes)
			if err != nil {
				return nil, fmt.Errorf("resolver %s: failed to parse certificate for %s: %w", resolver, entry.Domain.Main, err)
			}
			certs = append(certs, Certificate{
				Resolver: resolver,
				Main:     entry.Domain.Main,
				SANs:     entry.Domain.SANs,
				NotAfter: x509Cert.NotAfter,
				Issuer:   x509Cert.Issuer.CommonName,
			})
		}
	}

	sort.Slice(certs, func(i, j int) bool {
		if certs[i].Resolver != certs[j].Resolver {
			return certs[i].Resolver < certs[j].Resolver
		}
		return certs[i].Main < certs[j].Main
	})
	return certs, nil
}

// EnsureACMEFile creates path with mode 0600 when missing and tightens a
// wider mode, which Traefik refuses to use. It reports whether it changed
// anything.
func EnsureACMEFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return false, fmt.Errorf("failed to create %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return false, err
		}
		return true, os.Chmod(path, 0600)
	case err != nil:
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	case info.IsDir():
		return false, fmt.Errorf("%s is a directory", path)
	case info.Mode().Perm() != 0600:
		if err := os.Chmod(path, 0600); err != nil {
			return false, fmt.Errorf("failed to chmod %s: %w", path, err)
		}
		return true, nil
	}
	return false, nil
}
