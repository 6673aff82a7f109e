// Package httpstep provides extractor steps that pull data out of an
// inbound *http.Request carried in the store.
//
// The request object is opaque to the core: a handler places it into the
// initial store under KeyRequest, and these extractors surface its form
// values and query parameters as plain store entries for downstream steps.
//
// Example:
//
//	func handler(w http.ResponseWriter, r *http.Request) {
//	    p := pipe.NewPipe("signup", map[string]any{httpstep.KeyRequest: r})
//	    out, err := p.Run(r.Context(), []pipe.Step{
//	        httpstep.Form("read-form", http.MethodPost),
//	        validateSignup,
//	        saveUser,
//	    })
//	    ...
//	}
package httpstep

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pipeframe/pipe"
)

// Store keys used by the request extractors.
const (
	// KeyRequest is where callers place the inbound *http.Request.
	KeyRequest = "request"
	// KeyForm is where Form attaches the posted form values.
	KeyForm = "form"
	// KeyArgs is where Query attaches the URL query parameters.
	KeyArgs = "args"
)

// ErrMethodMismatch reports that the inbound request used a method other
// than the one the extractor was configured for.
type ErrMethodMismatch struct {
	Want string
	Got  string
}

// Error implements the error interface.
func (e *ErrMethodMismatch) Error() string {
	return fmt.Sprintf("httpstep: request method %s, want %s", e.Got, e.Want)
}

// request pulls the typed request out of the store. The "required" rule has
// already confirmed presence; this guards the type.
func request(store pipe.Store) (*http.Request, error) {
	req, ok := store.Value(KeyRequest).(*http.Request)
	if !ok {
		return nil, fmt.Errorf("httpstep: store key %q holds %T, want *http.Request", KeyRequest, store.Value(KeyRequest))
	}
	return req, nil
}

// flatten reduces multi-valued params to their first value, which is what
// downstream steps almost always want. The full slice remains available on
// the request itself.
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}

// Form creates an extractor that parses the request body as a form and
// attaches the posted values to the store under KeyForm. Requests with a
// method other than the configured one are rejected with
// *ErrMethodMismatch. An empty method defaults to POST.
func Form(name pipe.Name, method string) pipe.Step {
	if method == "" {
		method = http.MethodPost
	}
	return pipe.Extract(name, func(_ context.Context, store pipe.Store) (pipe.Store, error) {
		req, err := request(store)
		if err != nil {
			return store, err
		}
		if req.Method != method {
			return store, &ErrMethodMismatch{Want: method, Got: req.Method}
		}
		if err := req.ParseForm(); err != nil {
			return store, fmt.Errorf("httpstep: parse form: %w", err)
		}
		return store.With(KeyForm, flatten(req.PostForm)), nil
	},
		pipe.WithField("method", method),
		pipe.WithRequiredFields(pipe.Fields{KeyRequest: "required"}),
	)
}

// Query creates an extractor that attaches the request's URL query
// parameters to the store under KeyArgs.
func Query(name pipe.Name) pipe.Step {
	return pipe.Extract(name, func(_ context.Context, store pipe.Store) (pipe.Store, error) {
		req, err := request(store)
		if err != nil {
			return store, err
		}
		return store.With(KeyArgs, flatten(req.URL.Query())), nil
	},
		pipe.WithRequiredFields(pipe.Fields{KeyRequest: "required"}),
	)
}
