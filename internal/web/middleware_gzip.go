package web

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

const (
	// Responses below this size are sent uncompressed.
	gzipMinSize = 1024

	gzipLevel = 6
)

// gzipContentTypes lists the compressible response types. The pass-through
// API only returns JSON, the rest are error pages.
var gzipContentTypes = []string{
	"application/json",
	"text/plain",
	"text/html",
}

// gzipMiddleware compresses API responses. WebSocket upgrades bypass it so
// the relay can hijack the connection.
func gzipMiddleware(next http.Handler) (http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(gzipMinSize),
		gzhttp.CompressionLevel(gzipLevel),
		gzhttp.ContentTypes(gzipContentTypes),
	)
	if err != nil {
		return nil, err
	}
	compressed := wrap(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	}), nil
}
