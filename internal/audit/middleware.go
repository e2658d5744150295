package audit

import (
	"bytes"
	"net"
	"net/http"
	"strings"
	"time"
)

// bufferedWriter holds the response body until the audit row for the request
// has been written, so the recorded status is always the final one.
type bufferedWriter struct {
	http.ResponseWriter
	buf         bytes.Buffer
	code        int
	wroteHeader bool
}

func (w *bufferedWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.code = code
	w.wroteHeader = true
}

func (w *bufferedWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.Write(b)
}

// flush releases headers and the buffered body to the client.
func (w *bufferedWriter) flush() {
	w.ResponseWriter.WriteHeader(w.code)
	if w.buf.Len() > 0 {
		w.ResponseWriter.Write(w.buf.Bytes())
	}
}

// Middleware records exactly one audit entry per request carrying the final
// response status and duration. A handler panic is recorded as a 500 and
// re-raised for the outer recovery layer. Audit write failures never block
// the response; Log surfaces them to operators itself.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		bw := &bufferedWriter{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()

		paniced := true
		var panicVal any
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					panicVal = rec
					bw.buf.Reset()
					bw.wroteHeader = true
					bw.code = http.StatusInternalServerError
					return
				}
				paniced = false
			}()
			next.ServeHTTP(bw, req)
		}()

		_ = r.LogAPICall(req.Context(), req, bw.code, time.Since(start), nil)
		bw.flush()

		if paniced {
			panic(panicVal)
		}
	})
}

// requestIP prefers the first X-Forwarded-For hop over the socket address.
func requestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
