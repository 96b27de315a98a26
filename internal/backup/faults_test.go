package backup_test

import (
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// failFirst answers the first n calls of a procedure with 503.
func failFirst(procedure string, n int32) (func(http.Handler) http.Handler, *atomic.Int32) {
	var calls atomic.Int32
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, procedure) && calls.Add(1) <= n {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, &calls
}

// dropAfter closes the connection of a procedure's response once more
// than limit body bytes were written.
func dropAfter(procedure string, limit int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasSuffix(r.URL.Path, procedure) {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(&droppingWriter{ResponseWriter: w, left: limit}, r)
		})
	}
}

type droppingWriter struct {
	http.ResponseWriter
	left    int
	dropped bool
}

func (w *droppingWriter) Write(p []byte) (int, error) {
	if w.dropped {
		return 0, net.ErrClosed
	}
	if len(p) <= w.left {
		w.left -= len(p)
		return w.ResponseWriter.Write(p)
	}
	w.dropped = true
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		if conn, _, err := hj.Hijack(); err == nil {
			conn.Close()
		}
	}
	return 0, net.ErrClosed
}

func (w *droppingWriter) Flush() {
	if w.dropped {
		return
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
