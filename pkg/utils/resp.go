package utils

import "net/http"

type WrittenResponseWriter struct {
	write  bool
	status int
	base   http.ResponseWriter
}

func NewWrittenResponseWriter(base http.ResponseWriter) *WrittenResponseWriter {
	return &WrittenResponseWriter{
		base:  base,
		write: false,
	}
}

func (w *WrittenResponseWriter) Header() http.Header {
	return w.base.Header()
}

func (w *WrittenResponseWriter) Write(b []byte) (int, error) {
	if !w.write {
		w.status = http.StatusOK
	}
	w.write = true
	return w.base.Write(b)
}

func (w *WrittenResponseWriter) WriteHeader(statusCode int) {
	if !w.write {
		w.status = statusCode
	}
	w.write = true
	w.base.WriteHeader(statusCode)
}

func (w *WrittenResponseWriter) IsWritten() bool {
	return w.write
}

// Status returns the first status code sent, 0 when nothing was written.
func (w *WrittenResponseWriter) Status() int {
	return w.status
}

// Unwrap lets http.ResponseController reach Flush and Hijack of the base writer.
func (w *WrittenResponseWriter) Unwrap() http.ResponseWriter {
	return w.base
}
