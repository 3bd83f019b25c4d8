package validate

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	// Structural validation decodes image headers via the std registry.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/sells-group/docingest/internal/model"
)

// Validator checks submitted items against the type allow-list, size
// caps, filename rules, image structure, and malware heuristics. The zero
// Validator is not usable; construct with New.
type Validator struct {
	specs map[string]typeSpec
}

// New returns a Validator with the default allow-list tables.
func New() *Validator {
	return &Validator{specs: typeSpecs}
}

// AllowedTypes returns the declared MIME types the validator accepts.
func (v *Validator) AllowedTypes() []string {
	out := make([]string, 0, len(v.specs))
	for t := range v.specs {
		out = append(out, t)
	}
	return out
}

// Validate runs all checks in order and accumulates every failure rather
// than stopping at the first, so callers see the full diagnosis. It never
// fails with an error of its own; the outcome is the result.
func (v *Validator) Validate(item model.Item) Outcome {
	var out Outcome

	mimeType := strings.ToLower(item.MIMEType)
	spec, known := v.specs[mimeType]

	// (a) declared-type allow-list
	if !known {
		out.Errors = append(out.Errors, Error{
			Code:    CodeInvalidType,
			Message: fmt.Sprintf("type %q is not supported", item.MIMEType),
			Details: map[string]any{"declared_type": item.MIMEType},
		})
	}

	// (b) size limit, scaled by declared type
	size := item.Size
	if size == 0 {
		size = int64(len(item.Data))
	}
	maxSize := int64(absoluteMaxSize)
	if known {
		maxSize = spec.maxSize
	}
	if size > maxSize {
		out.Errors = append(out.Errors, Error{
			Code:    CodeFileTooLarge,
			Message: fmt.Sprintf("file is %d bytes, limit for %s is %d", size, mimeType, maxSize),
			Details: map[string]any{"size": size, "max_size": maxSize},
		})
	}

	// (c) filename sanitization
	out.SanitizedName = SanitizeName(item.Name)
	if out.SanitizedName == "" {
		out.Errors = append(out.Errors, Error{
			Code:    CodeInvalidName,
			Message: "filename is empty after sanitization",
			Details: map[string]any{"original_name": item.Name},
		})
	} else if out.SanitizedName != item.Name {
		out.Warnings = append(out.Warnings, "filename was sanitized")
	}

	// (d) filename safety
	if out.SanitizedName != "" {
		if reason := nameSafety(out.SanitizedName); reason != "" {
			out.Errors = append(out.Errors, Error{
				Code:    CodeInvalidName,
				Message: "unsafe filename: " + reason,
				Details: map[string]any{"name": out.SanitizedName},
			})
		} else if known && !extensionAllowed(out.SanitizedName, spec) {
			out.Errors = append(out.Errors, Error{
				Code:    CodeInvalidType,
				Message: fmt.Sprintf("extension does not match declared type %s", mimeType),
				Details: map[string]any{"name": out.SanitizedName, "allowed": spec.extensions},
			})
		}
	}

	// (e) image structural validation
	if known && spec.image {
		if err := validateImageStructure(item.Data); err != nil {
			out.Errors = append(out.Errors, Error{
				Code:    CodeInvalidContent,
				Message: err.Error(),
				Details: map[string]any{"declared_type": mimeType},
			})
		}
	}

	// (f) malware heuristics
	if scan := v.Scan(item); scan.Malicious {
		out.Errors = append(out.Errors, Error{
			Code:    CodeMalware,
			Message: "content flagged by malware heuristics",
			Details: map[string]any{
				"confidence": scan.Confidence,
				"threats":    scan.Threats,
			},
		})
	}

	out.Valid = len(out.Errors) == 0
	return out
}

// validateImageStructure decodes only the image header (DecodeConfig) and
// bounds the dimensions so a crafted file cannot claim an absurd canvas.
func validateImageStructure(data []byte) error {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("content does not decode as an image: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("image has non-positive dimensions %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width > maxImageDimension || cfg.Height > maxImageDimension {
		return fmt.Errorf("image dimensions %dx%d exceed %d per axis", cfg.Width, cfg.Height, maxImageDimension)
	}
	if cfg.Width*cfg.Height > maxImagePixels {
		return fmt.Errorf("image pixel count %d exceeds %d", cfg.Width*cfg.Height, maxImagePixels)
	}
	return nil
}
