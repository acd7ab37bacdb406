package security

import (
	"regexp"
	"strings"
)

// TextOptions configures CleanText, per §4.4.2.
type TextOptions struct {
	Trim      bool
	ScrubXSS  bool
	MaxLength int
}

var (
	eventAttrPattern  = regexp.MustCompile(`(?i)\bon\w+\s*=`)
	dangerousSchemes  = []string{"javascript:", "vbscript:", "data:"}
	scriptBlockPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	iframeBlockPattern = regexp.MustCompile(`(?is)<iframe\b[^>]*>.*?</iframe\s*>`)
	objectBlockPattern = regexp.MustCompile(`(?is)<object\b[^>]*>.*?</object\s*>`)
	embedBlockPattern  = regexp.MustCompile(`(?is)<embed\b[^>]*>.*?</embed\s*>`)
	formBlockPattern   = regexp.MustCompile(`(?is)<form\b[^>]*>.*?</form\s*>`)
	anyTagPattern      = regexp.MustCompile(`(?s)<[^>]*>`)
)

// CleanText strips dangerous substrings from free text, per §4.4.2. A
// non-string input (represented here as the caller not having a string to
// begin with) is the caller's responsibility; CleanText itself always
// receives a string.
func CleanText(input string, opts TextOptions) string {
	out := input
	if opts.Trim {
		out = strings.TrimSpace(out)
	}
	if opts.ScrubXSS {
		out = stripSchemesAndEvents(out)
		out = strings.ReplaceAll(out, "<", "")
		out = strings.ReplaceAll(out, ">", "")
	}
	if opts.MaxLength > 0 && len(out) > opts.MaxLength {
		out = out[:opts.MaxLength]
	}
	return out
}

func stripSchemesAndEvents(s string) string {
	out := s
	for _, scheme := range dangerousSchemes {
		out = replaceCaseInsensitive(out, scheme, "")
	}
	out = eventAttrPattern.ReplaceAllString(out, "")
	return out
}

func replaceCaseInsensitive(s, old, new string) string {
	if old == "" {
		return s
	}
	pattern := regexp.MustCompile("(?i)" + regexp.QuoteMeta(old))
	return pattern.ReplaceAllString(s, new)
}

// HTMLOptions configures CleanHTML, per §4.4.2.
type HTMLOptions struct {
	StripAll    bool
	AllowedTags []string
}

// CleanHTML removes dangerous blocks unconditionally, then either strips
// every remaining tag (StripAll) or removes any tag not on AllowedTags,
// preserving inner text either way.
func CleanHTML(input string, opts HTMLOptions) string {
	out := input
	out = scriptBlockPattern.ReplaceAllString(out, "")
	out = iframeBlockPattern.ReplaceAllString(out, "")
	out = objectBlockPattern.ReplaceAllString(out, "")
	out = embedBlockPattern.ReplaceAllString(out, "")
	out = formBlockPattern.ReplaceAllString(out, "")
	out = eventAttrPattern.ReplaceAllString(out, "")
	out = stripSchemesOnly(out)

	if opts.StripAll {
		return anyTagPattern.ReplaceAllString(out, "")
	}
	if len(opts.AllowedTags) > 0 {
		return stripDisallowedTags(out, opts.AllowedTags)
	}
	return out
}

func stripSchemesOnly(s string) string {
	out := s
	for _, scheme := range dangerousSchemes {
		out = replaceCaseInsensitive(out, scheme, "")
	}
	return out
}

func stripDisallowedTags(s string, allowed []string) string {
	allowedSet := make(map[string]bool, len(allowed))
	for _, t := range allowed {
		allowedSet[strings.ToLower(t)] = true
	}
	tagNamePattern := regexp.MustCompile(`^</?\s*([a-zA-Z][a-zA-Z0-9]*)`)
	return anyTagPattern.ReplaceAllStringFunc(s, func(tag string) string {
		m := tagNamePattern.FindStringSubmatch(tag)
		if m == nil {
			return ""
		}
		if allowedSet[strings.ToLower(m[1])] {
			return tag
		}
		return ""
	})
}

var htmlEntityReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
	"/", "&#47;",
	"`", "&#96;",
	"=", "&#61;",
)

// EscapeHTML replaces each of & < > " ' / ` = with its HTML entity.
func EscapeHTML(input string) string {
	return htmlEntityReplacer.Replace(input)
}
