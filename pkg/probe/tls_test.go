package probe

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"testing"
	"time"

	"github.com/vigil/shared"
)

type certificate struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey
}

// Signs with parent, or self-signs when parent is nil
func newCertificate(t *testing.T, cn string, notAfter time.Time, ca bool, parent *certificate) *certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	serial, _ := rand.Int(rand.Reader, big.NewInt(1<<62))
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             notAfter.Add(-72 * time.Hour),
		NotAfter:              notAfter,
		DNSNames:              []string{cn},
		IsCA:                  ca,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	signer, signerKey := tmpl, key
	if parent != nil {
		signer, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signer, &key.PublicKey, signerKey)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &certificate{cert: cert, key: key}
}

func serveCertificate(t *testing.T, c *certificate) *httptest.Server {
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.TLS = &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{c.cert.Raw}, PrivateKey: c.key}},
	}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func pool(certs ...*x509.Certificate) *x509.CertPool {
	p := x509.NewCertPool()
	for _, c := range certs {
		p.AddCert(c)
	}
	return p
}

type inspectTester struct {
	hostname string
	server   func(t *testing.T) (*httptest.Server, *x509.CertPool)
	code     string
}

func (t *inspectTester) runTest(test *testing.T, name string) {
	srv, roots := t.server(test)
	tg := target(test, srv, "https")

	desc, err := NewInspector(2*time.Second, roots).Inspect(context.Background(), t.hostname, tg.Address, tg.Port)
	if err != nil {
		test.Errorf("[%s] unexpected error: %v", name, err)
		return
	}
	if desc == nil {
		test.Errorf("[%s] expected a descriptor", name)
		return
	}
	if desc.ValidationError != t.code {
		test.Errorf("[%s] expected code %q, got %q", name, t.code, desc.ValidationError)
		return
	}

	if t.code != "" {
		if desc.AltNames == nil || len(desc.AltNames) != 0 || desc.Protocol != "" || desc.Fingerprint != "" {
			test.Errorf("[%s] validation failures carry only the code, got %+v", name, desc)
		}
		return
	}

	if desc.Protocol == "" || desc.Cipher == "" || desc.ValidTo.IsZero() {
		test.Errorf("[%s] incomplete descriptor %+v", name, desc)
	}
	if !slices.Contains(desc.AltNames, t.hostname) {
		test.Errorf("[%s] expected %s in %v", name, t.hostname, desc.AltNames)
	}
	if !regexp.MustCompile(`^tlsfp_[0-9a-f]{8}$`).MatchString(desc.Fingerprint) {
		test.Errorf("[%s] unexpected fingerprint %q", name, desc.Fingerprint)
	}
}

var inspectTests = map[string]*inspectTester{
	"trusted": {
		hostname: "example.com",
		server: func(t *testing.T) (*httptest.Server, *x509.CertPool) {
			srv := httptest.NewTLSServer(http.NotFoundHandler())
			t.Cleanup(srv.Close)
			return srv, pool(srv.Certificate())
		},
	},
	"hostname-mismatch": {
		hostname: "other.test",
		server: func(t *testing.T) (*httptest.Server, *x509.CertPool) {
			srv := httptest.NewTLSServer(http.NotFoundHandler())
			t.Cleanup(srv.Close)
			return srv, pool(srv.Certificate())
		},
		code: shared.TLS_HOSTNAME_MISMATCH,
	},
	"expired": {
		hostname: "expired.test",
		server: func(t *testing.T) (*httptest.Server, *x509.CertPool) {
			c := newCertificate(t, "expired.test", time.Now().Add(-24*time.Hour), true, nil)
			return serveCertificate(t, c), pool(c.cert)
		},
		code: shared.TLS_EXPIRED,
	},
	"self-signed": {
		hostname: "self.test",
		server: func(t *testing.T) (*httptest.Server, *x509.CertPool) {
			c := newCertificate(t, "self.test", time.Now().Add(24*time.Hour), true, nil)
			other := newCertificate(t, "unrelated.test", time.Now().Add(24*time.Hour), true, nil)
			return serveCertificate(t, c), pool(other.cert)
		},
		code: shared.TLS_SELF_SIGNED,
	},
	"unknown-issuer": {
		hostname: "leaf.test",
		server: func(t *testing.T) (*httptest.Server, *x509.CertPool) {
			ca := newCertificate(t, "Private CA", time.Now().Add(48*time.Hour), true, nil)
			leaf := newCertificate(t, "leaf.test", time.Now().Add(24*time.Hour), false, ca)
			other := newCertificate(t, "unrelated.test", time.Now().Add(24*time.Hour), true, nil)
			return serveCertificate(t, leaf), pool(other.cert)
		},
		code: shared.TLS_UNVERIFIABLE,
	},
}

func TestInspect(t *testing.T) {
	for tname, cfg := range inspectTests {
		cfg.runTest(t, tname)
	}
}

func TestInspectNetworkFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.NotFoundHandler())
	tg := target(t, srv, "https")
	srv.Close()

	desc, err := NewInspector(time.Second, nil).Inspect(context.Background(), "app.test", tg.Address, tg.Port)
	if err == nil || desc != nil {
		t.Errorf("expected an error and no descriptor, got %+v, %v", desc, err)
	}
}

func TestValidationCode(t *testing.T) {
	if code := ValidationCode(errors.New("connection reset by peer")); code != "" {
		t.Errorf("expected no code for network errors, got %q", code)
	}
	if code := ValidationCode(x509.HostnameError{Host: "a.test", Certificate: &x509.Certificate{}}); code != shared.TLS_HOSTNAME_MISMATCH {
		t.Errorf("unexpected code %q", code)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("TLS 1.3", "TLS_AES_128_GCM_SHA256", "unknown")
	b := Fingerprint("TLS 1.3", "TLS_AES_128_GCM_SHA256", "unknown")
	c := Fingerprint("TLS 1.2", "TLS_AES_128_GCM_SHA256", "unknown")

	if a != b {
		t.Error("fingerprint must be deterministic")
	}
	if a == c {
		t.Error("expected different fingerprints for different protocols")
	}
}
