package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/docingest/internal/model"
	"github.com/sells-group/docingest/internal/resilience"
)

const extractionSystemPrompt = `You extract structured financial data from receipts, invoices, and statements.
Reply with a single JSON object and nothing else:
{"date":"YYYY-MM-DD","amount":0.00,"vendor":"","category":"","description":"","confidence":0.0}
Set confidence to your certainty in the extracted fields, between 0 and 1.
If a field cannot be determined, use an empty string (or 0 for amount).`

// ClaudeOptions configures the Claude-backed extractor.
type ClaudeOptions struct {
	Model     string
	MaxTokens int64
	// RequestsPerSecond paces outgoing calls client-side, independent of
	// the admission controller's per-subject quota. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// ClaudeExtractor implements Extractor against the Anthropic API. The
// SDK client is built per call because the credential is fetched per
// call; see NewClaude.
type ClaudeExtractor struct {
	opts    ClaudeOptions
	limiter *rate.Limiter
	tokens  TokenProvider
}

// NewClaude creates a ClaudeExtractor. The credential comes from the
// token provider at call time, not construction time, so rotation is
// picked up between attempts.
func NewClaude(tokens TokenProvider, opts ClaudeOptions) *ClaudeExtractor {
	if opts.Model == "" {
		opts.Model = "claude-haiku-4-5-20251001"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 1024
	}
	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &ClaudeExtractor{opts: opts, limiter: limiter, tokens: tokens}
}

// Extract submits one document and decodes the structured reply. Errors
// are classified for the scheduler: 401 and unauthorized signals become
// AuthError (never retried), retryable statuses become TransientError.
func (c *ClaudeExtractor) Extract(ctx context.Context, item model.Item) (*model.ExtractedRecord, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "extraction: rate limit wait")
		}
	}

	_, bearer, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, resilience.NewAuthError(eris.Wrap(err, "extraction: fetch credential"))
	}

	block, err := contentBlock(item)
	if err != nil {
		return nil, err
	}

	client := sdk.NewClient(option.WithAPIKey(bearer))
	msg, err := client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.opts.Model),
		MaxTokens: c.opts.MaxTokens,
		System:    []sdk.TextBlockParam{{Text: extractionSystemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(
				sdk.NewTextBlock("Extract the financial record from this document: "+item.Name),
				block,
			),
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	var text strings.Builder
	for _, content := range msg.Content {
		text.WriteString(content.Text)
	}

	rec, err := parseRecord(text.String())
	if err != nil {
		return nil, err
	}

	zap.L().Debug("extraction complete",
		zap.String("item", item.Name),
		zap.String("model", c.opts.Model),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
		zap.Float64("confidence", rec.Confidence),
	)
	return rec, nil
}

// contentBlock wraps the payload in the right block type for its
// declared MIME type.
func contentBlock(item model.Item) (sdk.ContentBlockParamUnion, error) {
	switch {
	case strings.HasPrefix(item.MIMEType, "image/"):
		b64 := base64.StdEncoding.EncodeToString(item.Data)
		return sdk.NewImageBlockBase64(item.MIMEType, b64), nil
	case item.MIMEType == "application/pdf":
		b64 := base64.StdEncoding.EncodeToString(item.Data)
		return sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: b64}), nil
	case strings.HasPrefix(item.MIMEType, "text/"):
		return sdk.NewTextBlock(string(item.Data)), nil
	default:
		return sdk.ContentBlockParamUnion{},
			eris.Errorf("extraction: unsupported type %q", item.MIMEType)
	}
}

// classify maps SDK errors onto the scheduler's retry taxonomy.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401:
			return resilience.NewAuthError(err)
		case resilience.IsTransientHTTPStatus(apiErr.StatusCode):
			return resilience.NewTransientError(err, apiErr.StatusCode)
		default:
			return eris.Wrap(err, "extraction: backend rejected request")
		}
	}
	if resilience.IsAuthError(err) {
		return resilience.NewAuthError(err)
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(err, 0)
	}
	return eris.Wrap(err, "extraction: call failed")
}
