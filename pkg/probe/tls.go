package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"hash/fnv"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vigil/shared"
)

// Inspects the TLS service of a host. A certificate validation failure
// is not an error: it yields a descriptor carrying only the code. Other
// failures return an error and no descriptor.
type Inspector interface {
	Inspect(ctx context.Context, hostname, address string, port int) (*shared.TLSDescriptor, error)
}

type tlsInspector struct {
	timeout time.Duration
	roots   *x509.CertPool
}

// Validates against roots, or the system pool when nil
func NewInspector(timeout time.Duration, roots *x509.CertPool) *tlsInspector {
	return &tlsInspector{timeout: timeout, roots: roots}
}

func (i *tlsInspector) Inspect(ctx context.Context, hostname, address string, port int) (*shared.TLSDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: i.timeout},
		Config: &tls.Config{
			ServerName: hostname,
			RootCAs:    i.roots,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		if code := ValidationCode(err); code != "" {
			return &shared.TLSDescriptor{ValidationError: code, AltNames: []string{}}, nil
		}
		return nil, errors.Wrapf(err, "tls handshake with %s failed", hostname)
	}
	defer conn.Close()

	return Describe(conn.(*tls.Conn).ConnectionState()), nil
}

// Maps certificate validation failures to their code, or "" for any
// other kind of error
func ValidationCode(err error) string {
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return shared.TLS_HOSTNAME_MISMATCH
	}

	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) && invalidErr.Reason == x509.Expired {
		return shared.TLS_EXPIRED
	}

	var authErr x509.UnknownAuthorityError
	if errors.As(err, &authErr) {
		if c := authErr.Cert; c != nil && bytes.Equal(c.RawIssuer, c.RawSubject) {
			return shared.TLS_SELF_SIGNED
		}
		return shared.TLS_UNVERIFIABLE
	}
	return ""
}

func Describe(state tls.ConnectionState) *shared.TLSDescriptor {
	desc := &shared.TLSDescriptor{
		Protocol:      tls.VersionName(state.Version),
		Cipher:        tls.CipherSuiteName(state.CipherSuite),
		CipherVersion: cipherVersion(state.CipherSuite),
		AltNames:      []string{},
	}

	var leaf *x509.Certificate
	if len(state.PeerCertificates) > 0 {
		leaf = state.PeerCertificates[0]
		desc.ValidFrom = leaf.NotBefore
		desc.ValidTo = leaf.NotAfter
		desc.IssuerCN = leaf.Issuer.CommonName
		desc.SubjectCN = leaf.Subject.CommonName
		desc.AltNames = append(desc.AltNames, leaf.DNSNames...)
		for _, ip := range leaf.IPAddresses {
			desc.AltNames = append(desc.AltNames, ip.String())
		}
	}

	desc.Fingerprint = Fingerprint(desc.Protocol, desc.Cipher, signatureAlgorithm(leaf))
	return desc
}

func signatureAlgorithm(leaf *x509.Certificate) string {
	if leaf == nil || leaf.SignatureAlgorithm == x509.UnknownSignatureAlgorithm {
		return "unknown"
	}
	return leaf.SignatureAlgorithm.String()
}

// Lowest protocol version the suite is defined for
func cipherVersion(id uint16) string {
	suites := append(tls.CipherSuites(), tls.InsecureCipherSuites()...)
	for _, s := range suites {
		if s.ID != id || len(s.SupportedVersions) == 0 {
			continue
		}
		lowest := s.SupportedVersions[0]
		for _, v := range s.SupportedVersions[1:] {
			lowest = min(lowest, v)
		}
		return tls.VersionName(lowest)
	}
	return "unknown"
}

// FNV-1a over "protocol|cipher|signature". Groups similar TLS stacks
// together; it is not derived from the ClientHello and is not JA3.
func Fingerprint(protocol, cipher, signature string) string {
	h := fnv.New32a()
	h.Write([]byte(protocol + "|" + cipher + "|" + signature))
	return fmt.Sprintf("tlsfp_%08x", h.Sum32())
}
