package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vigil/shared"
)

const (
	DEFAULT_CT_ENDPOINT = "https://crt.sh/"
	DEFAULT_CT_TIMEOUT  = 30 * time.Second
)

// Queries a certificate transparency log search for every name
// certified under the domain
type CertificateTransparency struct {
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

func NewCertificateTransparency(endpoint string, timeout time.Duration, client *http.Client) *CertificateTransparency {
	if endpoint == "" {
		endpoint = DEFAULT_CT_ENDPOINT
	}
	if timeout <= 0 {
		timeout = DEFAULT_CT_TIMEOUT
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CertificateTransparency{endpoint: endpoint, timeout: timeout, client: client}
}

func (s *CertificateTransparency) Name() string {
	return shared.SOURCE_CT
}

func (s *CertificateTransparency) Enumerate(ctx context.Context, domain string) ([]string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid endpoint %s", s.endpoint)
	}
	q := url.Values{}
	q.Set("q", "%."+domain)
	q.Set("output", "json")
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query certificate log")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("unexpected status %s", resp.Status)
	}

	var entries []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "failed to decode certificate log response")
	}
	return parseEntries(entries, domain), nil
}

type ctEntry struct {
	NameValue *string `json:"name_value"`
}

// Entries that are not objects or carry no name_value string are skipped
func parseEntries(entries []json.RawMessage, domain string) []string {
	var names []string
	for _, raw := range entries {
		var e ctEntry
		if err := json.Unmarshal(raw, &e); err != nil || e.NameValue == nil {
			continue
		}
		for _, line := range strings.Split(*e.NameValue, "\n") {
			name := Normalize(line)
			if InScope(name, domain) {
				names = append(names, name)
			}
		}
	}
	return names
}
