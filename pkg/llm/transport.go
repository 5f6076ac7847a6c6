package llm

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// traceTransport propagates the active span to the model backend so a turn's
// generator and embedding calls join the same trace.
type traceTransport struct {
	base http.RoundTripper
}

func (t traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	carrier := propagation.HeaderCarrier(make(http.Header))
	otel.GetTextMapPropagator().Inject(req.Context(), carrier)
	if len(carrier) > 0 {
		req = req.Clone(req.Context())
		for k, v := range carrier {
			req.Header[k] = v
		}
	}
	return t.base.RoundTrip(req)
}

// tracedClient returns a copy of c whose transport injects trace headers.
func tracedClient(c *http.Client) *http.Client {
	var out http.Client
	if c != nil {
		out = *c
	}
	base := out.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	if _, ok := base.(traceTransport); !ok {
		out.Transport = traceTransport{base: base}
	}
	return &out
}
