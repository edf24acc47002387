package bidi

import (
	"regexp"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/tidwall/gjson"
)

// AcceptAll is the default filter. It accepts every request.
func AcceptAll(*BeforeRequestSentParameters) bool { return true }

// URLEquals accepts requests whose URL is exactly url.
func URLEquals(url string) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		return p.Request.URL == url
	}
}

// URLPrefix accepts requests whose URL starts with prefix.
func URLPrefix(prefix string) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		return strings.HasPrefix(p.Request.URL, prefix)
	}
}

// URLGlob accepts requests whose whole URL matches pattern, where * matches
// any run of characters (including /) and ? matches one character.
func URLGlob(pattern string) RequestFilter {
	re := regexp.MustCompile(globToRegexp(pattern))
	return URLRegexp(re)
}

func globToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

// URLRegexp accepts requests whose URL matches re.
func URLRegexp(re *regexp.Regexp) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		return re.MatchString(p.Request.URL)
	}
}

// MethodIs accepts requests using one of the given HTTP methods.
func MethodIs(methods ...string) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		for _, m := range methods {
			if strings.EqualFold(p.Request.Method, m) {
				return true
			}
		}
		return false
	}
}

// HeaderEquals accepts requests carrying header name with exactly value.
func HeaderEquals(name, value string) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		v, ok := p.Request.Header(name)
		return ok && v == value
	}
}

// Match accepts requests whose event params have value at the gjson path,
// for example Match("request.headers.#(name==\"accept\").value.value", "*/*").
func Match(path, value string) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		raw := p.Raw()
		if len(raw) == 0 {
			var err error
			if raw, err = json.Marshal(p); err != nil {
				return false
			}
		}
		res := gjson.GetBytes(raw, path)
		return res.Exists() && res.String() == value
	}
}

// All accepts requests accepted by every filter.
func All(filters ...RequestFilter) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		for _, f := range filters {
			if !f(p) {
				return false
			}
		}
		return true
	}
}

// Any accepts requests accepted by at least one filter.
func Any(filters ...RequestFilter) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		for _, f := range filters {
			if f(p) {
				return true
			}
		}
		return false
	}
}

// Not inverts f.
func Not(f RequestFilter) RequestFilter {
	return func(p *BeforeRequestSentParameters) bool {
		return !f(p)
	}
}
