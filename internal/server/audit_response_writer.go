package server

import (
	"bufio"
	"bytes"
	"net"
	"net/http"
)

const maxCapturedBody = 4 << 10

type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	buffer     bytes.Buffer
	capture    bool
}

func newResponseWriterWrapper(w http.ResponseWriter, capture bool) *responseWriterWrapper {
	return &responseWriterWrapper{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		capture:        capture,
	}
}

func (w *responseWriterWrapper) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriterWrapper) Write(b []byte) (int, error) {
	if w.capture && w.buffer.Len() < maxCapturedBody {
		rest := maxCapturedBody - w.buffer.Len()
		w.buffer.Write(b[:min(len(b), rest)])
	}
	return w.ResponseWriter.Write(b)
}

func (w *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	w.statusCode = http.StatusSwitchingProtocols
	return hijack(w.ResponseWriter)
}

func (w *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *responseWriterWrapper) GetStatusCode() int {
	return w.statusCode
}

func (w *responseWriterWrapper) GetBody() []byte {
	return w.buffer.Bytes()
}
