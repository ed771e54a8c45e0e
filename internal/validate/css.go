package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/livetemplate/labkit"
)

// CSSValidator checks stylesheets against the W3C Jigsaw CSS validator.
type CSSValidator struct {
	remote  *remote
	profile string
}

// NewCSSValidator creates a client for the Jigsaw validator at opts.Endpoint.
func NewCSSValidator(opts RemoteOptions) (*CSSValidator, error) {
	r, err := newRemote(ServiceCSS, opts)
	if err != nil {
		return nil, err
	}
	return &CSSValidator{remote: r, profile: "css3svg"}, nil
}

type jigsawMessage struct {
	Line    int    `json:"line"`
	Context string `json:"context"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type jigsawResponse struct {
	CSSValidation *struct {
		Validity bool            `json:"validity"`
		Errors   []jigsawMessage `json:"errors"`
		Warnings []jigsawMessage `json:"warnings"`
	} `json:"cssvalidation"`
}

// Check validates a stylesheet.
func (v *CSSValidator) Check(ctx context.Context, stylesheet string) ([]Message, error) {
	return v.remote.check(ctx, stylesheet, func(ctx context.Context) ([]Message, error) {
		form := url.Values{}
		form.Set("text", stylesheet)
		form.Set("profile", v.profile)
		form.Set("output", "json")

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.remote.endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		body, err := v.remote.do(req)
		if err != nil {
			return nil, err
		}

		var resp jigsawResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, &labkit.ValidationServiceError{Service: ServiceCSS, Err: fmt.Errorf("decode response: %w", err)}
		}
		if resp.CSSValidation == nil {
			return nil, &labkit.ValidationServiceError{Service: ServiceCSS, Err: fmt.Errorf("response has no cssvalidation object")}
		}

		msgs := make([]Message, 0, len(resp.CSSValidation.Errors)+len(resp.CSSValidation.Warnings))
		for _, m := range resp.CSSValidation.Errors {
			msgs = append(msgs, jigsawToMessage(m, SeverityError))
		}
		for _, m := range resp.CSSValidation.Warnings {
			msgs = append(msgs, jigsawToMessage(m, SeverityWarning))
		}
		return msgs, nil
	})
}

// Close releases the result cache.
func (v *CSSValidator) Close() {
	v.remote.close()
}

func jigsawToMessage(m jigsawMessage, severity Severity) Message {
	return Message{
		Severity: severity,
		Text:     strings.TrimSpace(m.Message),
		Line:     m.Line,
		Extract:  strings.TrimSpace(m.Context),
	}
}
