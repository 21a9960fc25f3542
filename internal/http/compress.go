package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-api/internal/observability"
)

const (
	encodingGzip   = "gzip"
	encodingBrotli = "br"

	DefaultCompressionMinSize = 1000
)

// Compressor compresses successful responses of at least minSize bytes when the client
// accepts gzip or br. gzip wins when both are acceptable.
type Compressor struct {
	minSize int
	logger  *zap.Logger
}

func NewCompressor(minSize int, logger *zap.Logger) *Compressor {
	if minSize < 0 {
		minSize = DefaultCompressionMinSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compressor{minSize: minSize, logger: logger}
}

func (c *Compressor) Name() string { return "compress" }

func (c *Compressor) Intercept(w http.ResponseWriter, r *http.Request, next Next) error {
	bw := &bufferedWriter{header: w.Header(), code: http.StatusOK}
	if err := next(bw, r); err != nil {
		// The error handler renders its own body; drop whatever was buffered.
		return err
	}

	body := bw.buf.Bytes()
	if !c.eligible(r, bw, len(body)) {
		return bw.flush(w, body)
	}
	h := w.Header()
	h.Add("Vary", "Accept-Encoding")

	encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
	if encoding == "" {
		return bw.flush(w, body)
	}
	compressed, err := compress(encoding, body)
	if err != nil {
		observability.LoggerFrom(r.Context(), c.logger).Warn("compression failed, sending identity",
			zap.String("encoding", encoding), zap.Error(err))
		return bw.flush(w, body)
	}

	h.Set("Content-Encoding", encoding)
	h.Del("Content-Length")
	observability.LoggerFrom(r.Context(), c.logger).Debug("compressed response",
		zap.String("encoding", encoding),
		zap.Int("original_bytes", len(body)),
		zap.Int("compressed_bytes", len(compressed)))
	observability.ResponsesCompressedTotal.WithLabelValues(encoding).Inc()
	return bw.flush(w, compressed)
}

func (c *Compressor) eligible(r *http.Request, bw *bufferedWriter, size int) bool {
	if size < c.minSize || r.Method == http.MethodHead {
		return false
	}
	if bw.code == http.StatusNoContent || bw.code == http.StatusNotModified {
		return false
	}
	return bw.header.Get("Content-Encoding") == ""
}

func compress(encoding string, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch encoding {
	case encodingGzip:
		zw, err := gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(body); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case encodingBrotli:
		bw := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
		if _, err := bw.Write(body); err != nil {
			return nil, err
		}
		if err := bw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
	return buf.Bytes(), nil
}

// negotiateEncoding picks gzip, then br, from an Accept-Encoding header. A zero q-value
// refuses a coding; "*" stands for any coding not listed.
func negotiateEncoding(header string) string {
	if header == "" {
		return ""
	}
	accepted := make(map[string]bool)
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(part, ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		accepted[name] = qValue(params) > 0
	}
	for _, enc := range []string{encodingGzip, encodingBrotli} {
		if ok, listed := accepted[enc]; listed {
			if ok {
				return enc
			}
			continue
		}
		if accepted["*"] {
			return enc
		}
	}
	return ""
}

func qValue(params string) float64 {
	for _, p := range strings.Split(params, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(strings.ToLower(k)) != "q" {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return q
	}
	return 1
}

// bufferedWriter holds the body until the compressor has seen all of it.
// Headers go straight to the wrapped writer's map.
type bufferedWriter struct {
	header      http.Header
	buf         bytes.Buffer
	code        int
	wroteHeader bool
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.code = code
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if !b.wroteHeader {
		b.WriteHeader(http.StatusOK)
	}
	return b.buf.Write(p)
}

func (b *bufferedWriter) flush(w http.ResponseWriter, body []byte) error {
	if b.wroteHeader {
		w.WriteHeader(b.code)
	}
	if len(body) == 0 {
		return nil
	}
	_, err := w.Write(body)
	return err
}
