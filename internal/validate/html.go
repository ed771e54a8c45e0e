package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/livetemplate/labkit"
)

// HTMLValidator checks markup against a W3C Nu HTML checker.
type HTMLValidator struct {
	remote *remote
}

// NewHTMLValidator creates a client for the Nu checker at opts.Endpoint.
// The endpoint should request JSON output (?out=json).
func NewHTMLValidator(opts RemoteOptions) (*HTMLValidator, error) {
	r, err := newRemote(ServiceHTML, opts)
	if err != nil {
		return nil, err
	}
	return &HTMLValidator{remote: r}, nil
}

type nuResponse struct {
	Messages []struct {
		Type        string `json:"type"`
		SubType     string `json:"subType"`
		Message     string `json:"message"`
		Extract     string `json:"extract"`
		LastLine    int    `json:"lastLine"`
		FirstColumn int    `json:"firstColumn"`
		LastColumn  int    `json:"lastColumn"`
	} `json:"messages"`
}

// Check validates markup.
func (v *HTMLValidator) Check(ctx context.Context, markup string) ([]Message, error) {
	return v.remote.check(ctx, markup, func(ctx context.Context) ([]Message, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.remote.endpoint, bytes.NewBufferString(markup))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "text/html; charset=utf-8")

		body, err := v.remote.do(req)
		if err != nil {
			return nil, err
		}

		var resp nuResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &labkit.ValidationServiceError{Service: ServiceHTML, Err: fmt.Errorf("decode response: %w", err)}
		}

		msgs := make([]Message, 0, len(resp.Messages))
		for _, m := range resp.Messages {
			column := m.FirstColumn
			if column == 0 {
				column = m.LastColumn
			}
			msgs = append(msgs, Message{
				Severity: nuSeverity(m.Type, m.SubType),
				Text:     m.Message,
				Line:     m.LastLine,
				Column:   column,
				Extract:  m.Extract,
			})
		}
		return msgs, nil
	})
}

// Close releases the result cache.
func (v *HTMLValidator) Close() {
	v.remote.close()
}

func nuSeverity(typ, subType string) Severity {
	switch typ {
	case "error", "non-document-error":
		return SeverityError
	case "info":
		if subType == "warning" {
			return SeverityWarning
		}
		return SeverityInfo
	default:
		return SeverityInfo
	}
}
