package shared

import (
	"maps"
	"slices"
	"strconv"
	"time"
)

// Source tags for discovered hosts
const (
	SOURCE_CT       = "certificate-transparency"
	SOURCE_WORDLIST = "wordlist"
)

// Category assigned when no rule contributes one
const STANDARD_CATEGORY = "standard"

// Certificate validation error codes
const (
	TLS_HOSTNAME_MISMATCH = "hostname-mismatch"
	TLS_EXPIRED           = "certificate-expired"
	TLS_SELF_SIGNED       = "self-signed-certificate"
	TLS_UNVERIFIABLE      = "unverifiable-leaf-signature"
)

// Endpoint notes
const (
	NOTE_DIRECTORY_LISTING = "directory listing suspected"
	NOTE_ROBOTS            = "robots.txt present"
	NOTE_SITEMAP           = "sitemap.xml present"
)

type DiscoveredHost struct {
	// Lowercase, without trailing dot
	Hostname     string    `json:"hostname"`
	Source       string    `json:"source"`
	Addresses    []string  `json:"addresses"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

type TLSDescriptor struct {
	Protocol      string    `json:"protocol,omitempty"`
	Cipher        string    `json:"cipher,omitempty"`
	CipherVersion string    `json:"cipher_version,omitempty"`
	ValidFrom     time.Time `json:"valid_from,omitzero"`
	ValidTo       time.Time `json:"valid_to,omitzero"`
	IssuerCN      string    `json:"issuer_cn,omitempty"`
	SubjectCN     string    `json:"subject_cn,omitempty"`
	AltNames      []string  `json:"alt_names"`
	// Grouping key, not a JA3 hash
	Fingerprint string `json:"fingerprint,omitempty"`
	// Set when the handshake failed certificate validation.
	// The other fields are empty in that case.
	ValidationError string `json:"validation_error,omitempty"`
}

type EndpointCheck struct {
	Path       string `json:"path"`
	StatusCode int    `json:"status_code"`
	Exists     bool   `json:"exists"`
	Note       string `json:"note,omitempty"`
}

type ProbeRecord struct {
	Hostname      string            `json:"hostname"`
	Address       string            `json:"address"`
	Scheme        string            `json:"scheme"`
	Port          int               `json:"port"`
	StatusCode    int               `json:"status_code"`
	Headers       map[string]string `json:"headers"`
	ContentLength int64             `json:"content_length"`
	Title         string            `json:"title,omitempty"`
	RedirectChain []string          `json:"redirect_chain"`
	TLS           *TLSDescriptor    `json:"tls,omitempty"`
	Endpoints     []EndpointCheck   `json:"endpoints"`
	// Milliseconds until the final response headers arrived
	ResponseTime int64     `json:"response_time"`
	Timestamp    time.Time `json:"timestamp"`
}

// Deep copy, so hooks and outputs never share headers, chains or
// endpoints with the record they came from
func (r *ProbeRecord) Clone() ProbeRecord {
	c := *r
	c.Headers = maps.Clone(r.Headers)
	c.RedirectChain = slices.Clone(r.RedirectChain)
	c.Endpoints = slices.Clone(r.Endpoints)
	if r.TLS != nil {
		tls := *r.TLS
		tls.AltNames = slices.Clone(r.TLS.AltNames)
		c.TLS = &tls
	}
	return c
}

// URL of the probed service, using the hostname
func (r *ProbeRecord) URL() string {
	return r.Scheme + "://" + r.Hostname + portSuffix(r.Scheme, r.Port) + "/"
}

func portSuffix(scheme string, port int) string {
	switch {
	case port == 0,
		scheme == "https" && port == 443,
		scheme == "http" && port == 80:
		return ""
	}
	return ":" + strconv.Itoa(port)
}

// Contribution of a single rule or hook
type Classification struct {
	Categories []string `json:"categories"`
	RiskScore  int      `json:"risk_score"`
	Notes      string   `json:"notes,omitempty"`
}

type ClassifiedRecord struct {
	ProbeRecord
	Categories []string `json:"categories"`
	RiskScore  int      `json:"risk_score"`
	Notes      string   `json:"notes"`
}

// A finding reported by an external vulnerability scanner
type Finding struct {
	TemplateID string    `json:"template_id"`
	Name       string    `json:"name"`
	Severity   string    `json:"severity"`
	Target     string    `json:"target"`
	Tags       []string  `json:"tags,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

// Outcome of a full pipeline run
type Report struct {
	Domain     string             `json:"domain"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Hosts      []*DiscoveredHost  `json:"hosts"`
	Probes     []*ProbeRecord     `json:"probes"`
	Classified []ClassifiedRecord `json:"classified"`
	Findings   []Finding          `json:"findings,omitempty"`
}
