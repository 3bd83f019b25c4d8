// Package extraction defines the extraction collaborator consumed by the
// batch scheduler, plus a Claude-backed reference implementation. The
// scheduler treats Extract as an opaque async operation: it only cares
// whether an error is transient or authentication-class.
package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docingest/internal/model"
)

// Extractor turns a document's bytes into a structured financial record.
type Extractor interface {
	Extract(ctx context.Context, item model.Item) (*model.ExtractedRecord, error)
}

// TokenProvider supplies a bearer credential and the subject it belongs
// to. The admission controller is keyed by the subject ID; the credential
// goes to the backend.
type TokenProvider interface {
	Token(ctx context.Context) (subjectID, bearer string, err error)
}

// StaticTokenProvider returns a fixed credential, for single-tenant use
// and tests.
type StaticTokenProvider struct {
	SubjectID string
	Bearer    string
}

func (p StaticTokenProvider) Token(context.Context) (string, string, error) {
	return p.SubjectID, p.Bearer, nil
}

// parseRecord pulls the first JSON object out of a model reply and
// decodes it. Models occasionally wrap the object in prose or fences;
// everything outside the outermost braces is ignored.
func parseRecord(text string) (*model.ExtractedRecord, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, eris.Errorf("extraction: no JSON object in reply (%d bytes)", len(text))
	}

	var rec model.ExtractedRecord
	if err := json.Unmarshal([]byte(text[start:end+1]), &rec); err != nil {
		return nil, eris.Wrap(err, "extraction: decode record")
	}
	if rec.Confidence < 0 {
		rec.Confidence = 0
	}
	if rec.Confidence > 1 {
		rec.Confidence = 1
	}
	return &rec, nil
}
