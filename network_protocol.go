package bidi

import (
	"strings"

	"github.com/go-json-experiment/json/jsontext"
)

const (
	MethodAddIntercept    = "network.addIntercept"
	MethodRemoveIntercept = "network.removeIntercept"
	MethodContinueRequest = "network.continueRequest"
	MethodFailRequest     = "network.failRequest"
	MethodProvideResponse = "network.provideResponse"

	EventBeforeRequestSent = "network.beforeRequestSent"
)

// InterceptPhase is a point in a request's lifecycle where the remote end
// pauses it and waits for a decision.
type InterceptPhase string

const (
	PhaseBeforeRequestSent InterceptPhase = "beforeRequestSent"
	PhaseResponseStarted   InterceptPhase = "responseStarted"
	PhaseAuthRequired      InterceptPhase = "authRequired"
)

// BytesValue is a string or base64 encoded body or header value.
type BytesValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// StringValue returns a BytesValue of type "string".
func StringValue(s string) BytesValue {
	return BytesValue{Type: "string", Value: s}
}

// Header is a single request or response header.
type Header struct {
	Name  string     `json:"name"`
	Value BytesValue `json:"value"`
}

// CookieHeader is a cookie to send with a continued request.
type CookieHeader struct {
	Name  string     `json:"name"`
	Value BytesValue `json:"value"`
}

// Cookie is a cookie as reported on an intercepted request.
type Cookie struct {
	Name   string         `json:"name"`
	Value  BytesValue     `json:"value"`
	Domain string         `json:"domain,omitzero"`
	Path   string         `json:"path,omitzero"`
	Extra  jsontext.Value `json:",unknown"`
}

// URLPattern restricts which requests an intercept applies to. Type is
// "string" (with Pattern) or "pattern" (with the component fields).
type URLPattern struct {
	Type     string `json:"type"`
	Pattern  string `json:"pattern,omitzero"`
	Protocol string `json:"protocol,omitzero"`
	Hostname string `json:"hostname,omitzero"`
	Port     string `json:"port,omitzero"`
	Pathname string `json:"pathname,omitzero"`
	Search   string `json:"search,omitzero"`
}

// AddInterceptParameters are the params of network.addIntercept.
type AddInterceptParameters struct {
	Phases      []InterceptPhase `json:"phases"`
	Contexts    []string         `json:"contexts,omitzero"`
	URLPatterns []URLPattern     `json:"urlPatterns,omitzero"`
}

func (AddInterceptParameters) Method() string { return MethodAddIntercept }

// AddInterceptResult is the result of network.addIntercept.
type AddInterceptResult struct {
	Intercept string         `json:"intercept"`
	Extra     jsontext.Value `json:",unknown"`
}

// RemoveInterceptParameters are the params of network.removeIntercept.
type RemoveInterceptParameters struct {
	Intercept string `json:"intercept"`
}

func (RemoveInterceptParameters) Method() string { return MethodRemoveIntercept }

// ContinueRequestParameters are the params of network.continueRequest.
// Request is mandatory, everything else overrides the paused request.
type ContinueRequestParameters struct {
	Request string         `json:"request"`
	Body    *BytesValue    `json:"body,omitzero"`
	Cookies []CookieHeader `json:"cookies,omitzero"`
	Headers []Header       `json:"headers,omitzero"`
	URL     string         `json:"url,omitzero"`

	// HTTPMethod goes on the wire as "method"; the marker keeps the tag
	// apart from the Command method name.
	HTTPMethod string `json:"_method,omitzero"`
}

func (ContinueRequestParameters) Method() string { return MethodContinueRequest }

// FailRequestParameters are the params of network.failRequest.
type FailRequestParameters struct {
	Request string `json:"request"`
}

func (FailRequestParameters) Method() string { return MethodFailRequest }

// ProvideResponseParameters are the params of network.provideResponse.
type ProvideResponseParameters struct {
	Request      string      `json:"request"`
	Body         *BytesValue `json:"body,omitzero"`
	Headers      []Header    `json:"headers,omitzero"`
	ReasonPhrase string      `json:"reasonPhrase,omitzero"`
	StatusCode   Opt[int]    `json:"statusCode,omitzero"`
}

func (ProvideResponseParameters) Method() string { return MethodProvideResponse }

// Initiator describes what caused a request.
type Initiator struct {
	Type  string         `json:"type,omitzero"`
	Extra jsontext.Value `json:",unknown"`
}

// RequestData describes the request carried by a network event.
type RequestData struct {
	Request     string         `json:"request"`
	URL         string         `json:"url"`
	Method      string         `json:"method,omitzero"`
	Headers     []Header       `json:"headers,omitzero"`
	Cookies     []Cookie       `json:"cookies,omitzero"`
	HeadersSize int64          `json:"headersSize,omitzero"`
	BodySize    Opt[int64]     `json:"bodySize,omitzero"`
	Destination string         `json:"destination,omitzero"`
	Extra       jsontext.Value `json:",unknown"`
}

// Header returns the string value of the first header named name, matched
// case-insensitively.
func (r *RequestData) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value.Value, true
		}
	}
	return "", false
}

// BeforeRequestSentParameters is the payload of network.beforeRequestSent.
type BeforeRequestSentParameters struct {
	Context       string         `json:"context,omitzero"`
	IsBlocked     Opt[bool]      `json:"isBlocked,omitzero"`
	Navigation    string         `json:"navigation,omitzero"`
	RedirectCount int            `json:"redirectCount,omitzero"`
	Request       RequestData    `json:"request"`
	Timestamp     int64          `json:"timestamp,omitzero"`
	Intercepts    []string       `json:"intercepts,omitzero"`
	Initiator     *Initiator     `json:"initiator,omitzero"`
	Extra         jsontext.Value `json:",unknown"`

	raw jsontext.Value
}

// Raw returns the params exactly as received, if they came off the wire.
func (p *BeforeRequestSentParameters) Raw() jsontext.Value {
	return p.raw
}

// decodeBeforeRequestSent decodes event params and keeps the raw bytes.
func decodeBeforeRequestSent(data jsontext.Value) (*BeforeRequestSentParameters, error) {
	var p BeforeRequestSentParameters
	if err := Decode(data, &p); err != nil {
		return nil, err
	}
	p.raw = data
	return &p, nil
}
