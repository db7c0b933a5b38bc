package httpapi

import (
	"net/http"
	"strings"

	"github.com/archivorch/orchestrator/core/apierr"
)

// authProcessor enforces the processor surface's shared bearer token and
// refreshes the caller's presence entry from its X-Worker-Id /
// X-Worker-Kinds headers, independent of whether this particular call also
// happens to be a stream subscribe.
func (s *Service) authProcessor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.ProcessorToken != "" {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token != s.ProcessorToken {
				writeError(w, s.logger, apierr.Unauthorized("missing or invalid bearer token"))
				return
			}
		}

		workerID := r.Header.Get("X-Worker-Id")
		if workerID != "" {
			kinds := splitCommaHeader(r.Header.Get("X-Worker-Kinds"))
			s.WorkerPresence.Touch(workerID, kinds)
		}

		next.ServeHTTP(w, r)
	})
}

func splitCommaHeader(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
