package ingestion

import (
	"net/url"
	"strings"
)

// InferredMetadata holds the source type, category and issuing authority
// inferred from a document's source URL. Metadata given explicitly in the
// corpus file or ingest request takes precedence; this is the best-effort
// fallback.
type InferredMetadata struct {
	// SourceType classifies the publisher (government, regulator, institution, other).
	SourceType string
	// Category is the policy area (general, technical, higher_education, school, admission, ...).
	Category string
	// Authority is the short name of the issuing body (moe, aicte, ugc, ncert, ...).
	Authority string
}

// authorities maps known publisher hosts to their canonical metadata.
// Matching is by host suffix so subdomains resolve to the same body.
var authorities = []struct {
	suffix string
	meta   InferredMetadata
}{
	{"education.gov.in", InferredMetadata{SourceType: "government", Category: "general", Authority: "moe"}},
	{"aicte-india.org", InferredMetadata{SourceType: "regulator", Category: "technical", Authority: "aicte"}},
	{"ugc.gov.in", InferredMetadata{SourceType: "regulator", Category: "higher_education", Authority: "ugc"}},
	{"ugc.ac.in", InferredMetadata{SourceType: "regulator", Category: "higher_education", Authority: "ugc"}},
	{"ncert.nic.in", InferredMetadata{SourceType: "regulator", Category: "school", Authority: "ncert"}},
	{"naac.gov.in", InferredMetadata{SourceType: "regulator", Category: "accreditation", Authority: "naac"}},
	{"scholarships.gov.in", InferredMetadata{SourceType: "government", Category: "scholarship", Authority: "nsp"}},
}

// pathCategories refines Category for institution sites from the first path
// segment that names a policy area.
var pathCategories = map[string]string{
	"admission":    "admission",
	"admissions":   "admission",
	"academics":    "academic",
	"academic":     "academic",
	"regulations":  "academic",
	"scholarship":  "financial_aid",
	"scholarships": "financial_aid",
	"fees":         "financial_aid",
	"examinations": "examination",
	"exams":        "examination",
}

// InferMetadata inspects the document source URL and returns best-effort
// metadata. Unknown or unparsable URLs yield ("other", "general", "").
//
// Recognised hosts:
//
//	education.gov.in      Ministry of Education
//	aicte-india.org       AICTE
//	ugc.gov.in, ugc.ac.in UGC
//	ncert.nic.in          NCERT
//	naac.gov.in           NAAC
//	scholarships.gov.in   National Scholarship Portal
//	*.edu, *.edu.in, *.ac.in  institutions
func InferMetadata(rawURL string) InferredMetadata {
	m := InferredMetadata{
		SourceType: "other",
		Category:   "general",
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return m
	}

	host := strings.ToLower(parsed.Hostname())
	segments := trimSegments(strings.ToLower(parsed.Path))

	for _, a := range authorities {
		if host == a.suffix || strings.HasSuffix(host, "."+a.suffix) {
			return a.meta
		}
	}

	if isInstitution(host) {
		m.SourceType = "institution"
		m.Authority = institutionName(host)
		for _, seg := range segments {
			if c, ok := pathCategories[seg]; ok {
				m.Category = c
				break
			}
		}
	}
	return m
}

// Apply fills source_type, category and authority into meta where absent.
func (m InferredMetadata) Apply(meta map[string]string) {
	set := func(k, v string) {
		if v != "" && meta[k] == "" {
			meta[k] = v
		}
	}
	set("source_type", m.SourceType)
	set("category", m.Category)
	set("authority", m.Authority)
}

func isInstitution(host string) bool {
	return strings.HasSuffix(host, ".edu") ||
		strings.HasSuffix(host, ".edu.in") ||
		strings.HasSuffix(host, ".ac.in")
}

// institutionName returns the registrable label of an institution host,
// e.g. "gitam" for www.gitam.edu.
func institutionName(host string) string {
	host = strings.TrimPrefix(host, "www.")
	for _, suffix := range []string{".edu.in", ".ac.in", ".edu"} {
		if strings.HasSuffix(host, suffix) {
			host = strings.TrimSuffix(host, suffix)
			break
		}
	}
	if i := strings.LastIndex(host, "."); i >= 0 {
		host = host[i+1:]
	}
	return host
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
