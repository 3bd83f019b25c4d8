package validate

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// dangerousExtensions are never acceptable, including hidden behind a
// double extension ("invoice.php.jpg").
var dangerousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true, ".scr": true,
	".pif": true, ".msi": true, ".dll": true, ".js": true, ".vbs": true,
	".jar": true, ".sh": true, ".ps1": true, ".php": true, ".phtml": true,
	".asp": true, ".aspx": true, ".jsp": true, ".cgi": true, ".pl": true,
	".py": true, ".rb": true, ".htaccess": true,
}

// scriptLikeSubstrings flag a filename outright regardless of extension.
var scriptLikeSubstrings = []string{
	"<script",
	"javascript:",
	"vbscript:",
	"data:text/html",
}

// dangerousNameChars are stripped during sanitization.
const dangerousNameChars = `<>:"|?*&;$!'` + "`"

// SanitizeName normalizes a submitted display name into something safe to
// log, store, and echo back: NFC normalization, no path traversal, no
// separators, no control or shell-dangerous characters, bounded length.
// A clean name passes through unchanged.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)

	// Traversal sequences first so "..\/" fragments cannot recombine
	// after separator stripping.
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", "")
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r < 0x20 || r == 0x7F:
			// control characters
		case r == '/' || r == '\\':
			// path separators
		case strings.ContainsRune(dangerousNameChars, r):
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())

	if runes := []rune(out); len(runes) > maxNameLength {
		out = string(runes[:maxNameLength])
	}
	return out
}

// nameSafety checks a sanitized name against known-dangerous extensions,
// double extensions, and script-like substrings. It returns a reason for
// rejection, or "" if the name is acceptable.
func nameSafety(name string) string {
	lower := strings.ToLower(name)

	for _, s := range scriptLikeSubstrings {
		if strings.Contains(lower, s) {
			return "script-like content in filename"
		}
	}

	parts := strings.Split(lower, ".")
	if len(parts) < 2 {
		return ""
	}
	// Every dotted segment counts: "invoice.php.jpg" hides .php behind
	// an innocuous final extension.
	for _, part := range parts[1:] {
		if dangerousExtensions["."+part] {
			return "dangerous extension ." + part
		}
	}
	return ""
}

// extensionAllowed reports whether the name's final extension is in the
// declared type's allow-list.
func extensionAllowed(name string, spec typeSpec) bool {
	lower := strings.ToLower(name)
	for _, ext := range spec.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
