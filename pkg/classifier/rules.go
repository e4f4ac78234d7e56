package classifier

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vigil/shared"
)

type rule func(rec *shared.ProbeRecord, now time.Time, v *verdict)

// Order matters: the status rule looks at the hostname categories
var builtinRules = []rule{
	hostnameRule,
	statusRule,
	headerRule,
	endpointRule,
	tlsRule,
	noTLSRule,
	slowResponseRule,
}

type hostnamePattern struct {
	re       *regexp.Regexp
	category string
	score    int
	note     string
}

// Matches any of the alternatives anywhere in the hostname, so compound
// labels like cicd, devops or webmail still fire
func labels(alternatives string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(` + alternatives + `)`)
}

var hostnamePatterns = []hostnamePattern{
	{labels(`staging|stg|stage|dev|development`), "staging", 60, "staging or development environment"},
	{labels(`api`), "api", 40, "api endpoint"},
	{labels(`admin|administrator|management`), "admin-panel", 85, "administrative interface"},
	{labels(`test|testing|qa`), "testing", 55, "testing environment"},
	{labels(`mail|smtp|imap|pop`), "mail", 30, "mail service"},
	{labels(`vpn|remote`), "remote-access", 50, "remote access service"},
	{labels(`jenkins|gitlab|ci|cd`), "ci-cd", 70, "ci/cd infrastructure"},
	{labels(`static|cdn|assets`), "static-content", 10, "static content"},
}

func hostnameRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	for _, p := range hostnamePatterns {
		if p.re.MatchString(rec.Hostname) {
			v.add(p.category, p.score, p.note)
		}
	}
}

func statusRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	switch {
	case rec.StatusCode == 200 && v.has("admin-panel"):
		v.add("admin-panel", 85, "admin panel reachable without authentication")
	case rec.StatusCode == 401 || rec.StatusCode == 403:
		v.add("auth-required", 40, fmt.Sprintf("authentication required (%d)", rec.StatusCode))
	case rec.StatusCode >= 500:
		v.add("server-error", 30, fmt.Sprintf("server error (%d)", rec.StatusCode))
	}
}

// Apache 1.x and 2.0-2.2, nginx 1.0-1.9, IIS 6-7
var legacyServer = regexp.MustCompile(`(?i)(apache/(1\.\d+|2\.[0-2])(\D|$)|nginx/1\.\d(\D|$)|microsoft-iis/[67]\.)`)

var securityHeaders = []string{
	"strict-transport-security",
	"x-frame-options",
	"x-content-type-options",
	"content-security-policy",
}

func headerRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	h := rec.Headers

	if server := h["server"]; server != "" && legacyServer.MatchString(server) {
		v.add("outdated-server", 60, "outdated server: "+server)
	}

	if strings.TrimSpace(h["access-control-allow-origin"]) == "*" &&
		strings.EqualFold(strings.TrimSpace(h["access-control-allow-credentials"]), "true") {
		v.add("cors-unsafe", 75, "wildcard origin allowed with credentials")
	}

	var missing []string
	for _, name := range securityHeaders {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) >= 3 {
		v.add("missing-security-headers", 45, "missing headers: "+strings.Join(missing, ", "))
	}
}

func endpointRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	var exposed []string
	listing := false
	for _, e := range rec.Endpoints {
		if e.Exists && (strings.Contains(e.Path, "admin") || strings.Contains(e.Path, ".git")) {
			exposed = append(exposed, e.Path)
		}
		if e.Note == shared.NOTE_DIRECTORY_LISTING {
			listing = true
		}
	}

	if len(exposed) > 0 {
		v.add("exposed-endpoints", 80, "exposed paths: "+strings.Join(exposed, ", "))
	}
	if listing {
		v.add("directory-listing", 80, "directory listing enabled")
	}
}

const EXPIRY_WINDOW = 7 * 24 * time.Hour

var weakCiphers = []string{"RC4", "DES", "MD5", "3DES"}

func tlsRule(rec *shared.ProbeRecord, now time.Time, v *verdict) {
	desc := rec.TLS
	if desc == nil {
		return
	}

	switch {
	case desc.ValidationError == shared.TLS_EXPIRED,
		!desc.ValidTo.IsZero() && desc.ValidTo.Before(now):
		v.add("expired-certificate", 65, "certificate expired")
	case !desc.ValidTo.IsZero() && desc.ValidTo.Before(now.Add(EXPIRY_WINDOW)):
		v.add("expiring-certificate", 40, "certificate expires on "+desc.ValidTo.Format(time.DateOnly))
	}

	if desc.ValidationError != "" && desc.ValidationError != shared.TLS_EXPIRED {
		v.add("invalid-certificate", 60, "certificate validation failed: "+desc.ValidationError)
	}

	cipher := strings.ToUpper(desc.Cipher)
	for _, weak := range weakCiphers {
		if strings.Contains(cipher, weak) {
			v.add("weak-cipher", 70, "weak cipher: "+desc.Cipher)
			break
		}
	}
}

func noTLSRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	if rec.Scheme == "http" && rec.TLS == nil {
		v.add("no-tls", 50, "served without tls")
	}
}

const SLOW_RESPONSE_MS = 5000

func slowResponseRule(rec *shared.ProbeRecord, _ time.Time, v *verdict) {
	if rec.ResponseTime > SLOW_RESPONSE_MS {
		v.add("slow-response", 20, fmt.Sprintf("slow response (%dms)", rec.ResponseTime))
	}
}
