package browser

import (
	"net/url"
	"strings"
)

// DomainAdapter carries site-specific guidance for the automation engine.
type DomainAdapter struct {
	Name         string
	Instructions string
}

// DetectAdapter picks the adapter for a posting URL by host.
func DetectAdapter(rawURL string) DomainAdapter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Host)
	}

	switch {
	case strings.Contains(host, "greenhouse"):
		return DomainAdapter{
			Name: "greenhouse",
			Instructions: "Greenhouse forms usually include grouped sections for personal information, " +
				"resume upload, EEOC voluntary self-identification, and custom questions. " +
				"Watch for required fields marked with an asterisk.",
		}
	case strings.Contains(host, "lever"):
		return DomainAdapter{
			Name: "lever",
			Instructions: "Lever applications often render profile fields and resume upload in one page, " +
				"then optional links and additional questions. Prefer stable input names over placeholders.",
		}
	case strings.Contains(host, "workable"):
		return DomainAdapter{
			Name: "workable",
			Instructions: "Workable forms are usually modular with optional screening questions. " +
				"Handle radio and select controls carefully and preserve user-declared compliance answers.",
		}
	case strings.Contains(host, "smartrecruiters"):
		return DomainAdapter{
			Name: "smartrecruiters",
			Instructions: "SmartRecruiters flows may include account creation and multi-step forms. " +
				"Proceed step-by-step and verify required fields before advancing.",
		}
	case strings.Contains(host, "linkedin.com"):
		return DomainAdapter{
			Name: "linkedin",
			Instructions: "LinkedIn flows should prioritize Easy Apply modal detection. " +
				"If the posting routes to external apply instead of Easy Apply, stop and report it. " +
				"Complete one step at a time, validate required fields before moving forward, " +
				"and stop immediately if CAPTCHA or additional human verification appears.",
		}
	}

	return DomainAdapter{
		Name:         "generic",
		Instructions: "Use robust fallback form detection with semantic labels and avoid assumptions about field order.",
	}
}

// IsExternalApply reports whether a LinkedIn posting routes applicants off
// the site. Detection is a URL heuristic: in-page flows carry an easy-apply
// marker, everything else on linkedin.com is treated as an external
// redirect and blocks before any field work.
func IsExternalApply(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.Contains(strings.ToLower(u.Host), "linkedin.com") {
		return false
	}
	return !strings.Contains(strings.ToLower(rawURL), "easy-apply")
}
