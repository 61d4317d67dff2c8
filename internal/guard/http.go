// ABOUTME: HTTP middleware enforcing guard requirements on routes
// ABOUTME: Merges attached and header claims, peeks bodies for confirmation

package guard

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/bakhmaro/gurulo-gateway/internal/claims"
)

// maxConfirmationBody bounds how much of a request body is buffered while
// looking for the confirmation signal.
const maxConfirmationBody = 1 << 20

// Require returns middleware enforcing the requirement. Claims attached to
// the request context by an upstream authenticator and forwarded header
// claims are merged in that order: the attached personal id wins, role and
// org lists concatenate then dedupe. On destructive requirements the JSON
// body is peeked for the confirmation signal and restored for the handler.
func (g *Guard) Require(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attached := FromContext(r.Context())
			cs := claims.FromHTTP(r, &attached, nil)

			confirmed := false
			if req.Destructive {
				confirmed = ConfirmationFromHTTP(r, peekJSONBody(r))
			}

			meta := RequestMeta{
				Route:         r.URL.Path,
				Method:        r.Method,
				CorrelationID: r.Header.Get("x-request-id"),
			}

			decision := g.Check(r.Context(), cs, req, confirmed, meta)
			if !decision.Allowed {
				WriteDenial(w, decision)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), cs)))
		})
	}
}

// peekJSONBody reads a JSON request body into a map and restores the body
// so the handler can read it again. Non-JSON or unparseable bodies yield
// an empty map.
func peekJSONBody(r *http.Request) map[string]any {
	if r.Body == nil {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.Contains(ct, "application/json") {
		return nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxConfirmationBody))
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return nil
	}

	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	return body
}
