package bidi

import (
	"context"

	"github.com/go-json-experiment/json/jsontext"
)

const MethodNavigate = "browsingContext.navigate"

// ReadinessState tells navigate how long to wait before replying.
type ReadinessState string

const (
	ReadinessNone        ReadinessState = "none"
	ReadinessInteractive ReadinessState = "interactive"
	ReadinessComplete    ReadinessState = "complete"
)

// NavigateParameters are the params of browsingContext.navigate.
// Wait defaults to ReadinessComplete.
type NavigateParameters struct {
	Context string         `json:"context"`
	URL     string         `json:"url"`
	Wait    ReadinessState `json:"wait,omitzero"`
}

func (NavigateParameters) Method() string { return MethodNavigate }

func (p NavigateParameters) withDefaults() any {
	if p.Wait == "" {
		p.Wait = ReadinessComplete
	}
	return p
}

// NavigateResult is the result of browsingContext.navigate.
type NavigateResult struct {
	Navigation string         `json:"navigation,omitzero"`
	URL        string         `json:"url"`
	Extra      jsontext.Value `json:",unknown"`
}

// BrowsingContext issues browsingContext commands on a session.
type BrowsingContext struct {
	session *Session
}

// NewBrowsingContext returns a browsingContext module bound to s.
func NewBrowsingContext(s *Session) *BrowsingContext {
	return &BrowsingContext{session: s}
}

// Navigate navigates the given context to url. An omitted wait means
// ReadinessComplete.
func (b *BrowsingContext) Navigate(ctx context.Context, contextID, url string, wait ...ReadinessState) (*NavigateResult, error) {
	params := &NavigateParameters{Context: contextID, URL: url}
	if len(wait) > 0 {
		params.Wait = wait[0]
	}
	return Call[NavigateResult](ctx, b.session, params)
}
