package wiring

// defaultTrustTable maps source prefixes to a trust score in [0,1]. Known-good
// security feeds score high, known-untrustworthy ones score low; anything
// else falls through to the scorer's own 0.5 neutral default. Fixture sources
// nvd.nist.gov and unknown-security-site.com anchor the high and low ends.
var defaultTrustTable = map[string]float64{
	"nvd.nist.gov":              1.0,
	"cve.mitre.org":             1.0,
	"owasp.org":                 0.9,
	"redhat.com":                0.85,
	"unknown-security-site.com": 0.0,
	"pastebin.com":              0.05,
}

// defaultRedFlagCategories groups keyword phrases into five semantic
// categories, seeded so the demo corpus's poisoned-document fixture actually
// reproduces a quarantine outcome.
var defaultRedFlagCategories = map[string][]string{
	"security-downgrade": {
		"disable firewall",
		"disable antivirus",
		"turn off selinux",
	},
	"dangerous-permissions": {
		"chmod 777",
		"chmod -r 777",
		"run as root",
	},
	"severity-downplay": {
		"not urgent",
		"low priority",
		"minor issue",
	},
	"unsafe-operations": {
		"skip verification",
		"skip signature check",
		"ignore certificate",
	},
	"social-engineering": {
		"click this link",
		"verify your password",
		"urgent action required",
	},
}

// defaultGoldenDocs is the fixed reference corpus the semantic-drift scorer
// measures documents against. These are short, curated passages in the
// voice of a legitimate vulnerability advisory.
var defaultGoldenDocs = []string{
	"Apply the vendor-supplied patch and verify the fix with the official checksum before deploying to production.",
	"Review the CVE advisory, confirm the affected component versions, and schedule remediation according to severity.",
	"Rotate any credentials that may have been exposed and audit access logs for the affected period.",
}
