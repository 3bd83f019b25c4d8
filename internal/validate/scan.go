package validate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sells-group/docingest/internal/model"
)

// Additive scan signal weights. Each independent signal contributes to a
// confidence score capped at 1.0; above maliciousThreshold the item is
// treated as malicious.
const (
	weightSignatureMismatch = 0.3
	weightSuspiciousName    = 0.2
	weightSizeAnomaly       = 0.1
	weightScriptMarker      = 0.2 // per distinct marker class
)

// suspiciousNameFragments are raw-name substrings that suggest an
// attempted traversal or smuggled executable content. Encoded forms count
// as much as literal ones.
var suspiciousNameFragments = []string{
	"../", "..\\",
	"%2e%2e", "%2f", "%5c",
	".php", ".asp", ".jsp", ".exe",
	"<script", "javascript:",
}

// markerClass groups byte patterns that indicate one family of embedded
// script content. Each class scores once no matter how often it appears.
type markerClass struct {
	name     string
	patterns [][]byte
}

var markerClasses = []markerClass{
	{"script-tag", [][]byte{[]byte("<script")}},
	{"javascript-uri", [][]byte{[]byte("javascript:")}},
	{"server-side-code", [][]byte{[]byte("<?php"), []byte("<?="), []byte("<%")}},
	{"event-handler", [][]byte{[]byte("onerror="), []byte("onload="), []byte("onclick=")}},
}

// Scan runs the malware heuristics over an item and returns the combined
// verdict. It never fails; unknown declared types simply skip the
// signature and size-floor signals.
func (v *Validator) Scan(item model.Item) ScanResult {
	var res ScanResult
	spec, known := v.specs[strings.ToLower(item.MIMEType)]

	if known && len(spec.signature) > 0 && !signatureMatches(item.Data, spec.signature) {
		res.Confidence += weightSignatureMismatch
		res.Threats = append(res.Threats,
			fmt.Sprintf("content signature does not match declared type %s", item.MIMEType))
	}

	if frag := suspiciousNameFragment(item.Name); frag != "" {
		res.Confidence += weightSuspiciousName
		res.Threats = append(res.Threats, "suspicious filename: "+frag)
	}

	size := item.Size
	if size == 0 {
		size = int64(len(item.Data))
	}
	if (known && size < spec.minSize) || size > absoluteMaxSize {
		res.Confidence += weightSizeAnomaly
		res.Threats = append(res.Threats, fmt.Sprintf("anomalous size %d bytes", size))
	}

	if known && spec.image {
		prefix := item.Data
		if len(prefix) > scanPrefixLen {
			prefix = prefix[:scanPrefixLen]
		}
		lower := bytes.ToLower(prefix)
		for _, class := range markerClasses {
			for _, pat := range class.patterns {
				if bytes.Contains(lower, pat) {
					res.Confidence += weightScriptMarker
					res.Threats = append(res.Threats, "embedded "+class.name+" in image data")
					break
				}
			}
		}
	}

	if res.Confidence > 1.0 {
		res.Confidence = 1.0
	}
	res.Malicious = res.Confidence > maliciousThreshold
	return res
}

// signatureMatches checks every signature part against the payload's
// first sigPrefixLen bytes.
func signatureMatches(data []byte, sig []sigPart) bool {
	if len(data) > sigPrefixLen {
		data = data[:sigPrefixLen]
	}
	for _, part := range sig {
		end := part.offset + len(part.bytes)
		if end > len(data) || !bytes.Equal(data[part.offset:end], part.bytes) {
			return false
		}
	}
	return true
}

func suspiciousNameFragment(name string) string {
	lower := strings.ToLower(name)
	for _, frag := range suspiciousNameFragments {
		if strings.Contains(lower, frag) {
			return frag
		}
	}
	return ""
}
