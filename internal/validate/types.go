// Package validate rejects or sanitizes unsafe and malformed documents
// before they reach the extraction backend. All checks run on bounded
// prefixes of the payload (16 bytes for signatures, 64KB for pattern
// scanning) so validation cost does not grow with file size.
package validate

// Code identifies a class of validation failure.
type Code string

const (
	CodeFileTooLarge   Code = "FILE_TOO_LARGE"
	CodeInvalidType    Code = "INVALID_TYPE"
	CodeMalware        Code = "MALWARE_DETECTED"
	CodeInvalidContent Code = "INVALID_CONTENT"
	CodeInvalidName    Code = "INVALID_NAME"
)

// Error is a single validation failure with diagnostics.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Outcome is the immutable result of validating one item. Errors appear
// in check order.
type Outcome struct {
	Valid         bool     `json:"valid"`
	Errors        []Error  `json:"errors,omitempty"`
	Warnings      []string `json:"warnings,omitempty"`
	SanitizedName string   `json:"sanitized_name,omitempty"`
}

// HasCode reports whether the outcome contains an error with the code.
func (o Outcome) HasCode(code Code) bool {
	for _, e := range o.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// ScanResult is the malware heuristic verdict for one item.
type ScanResult struct {
	Malicious  bool     `json:"malicious"`
	Threats    []string `json:"threats,omitempty"`
	Confidence float64  `json:"confidence"` // [0,1]
}
