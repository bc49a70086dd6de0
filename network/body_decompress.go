package network

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"github.com/klauspost/compress/zstd"
)

// DecompressResponseBody decodes a colly response body according to its
// content-encoding header.
func DecompressResponseBody(r *colly.Response) ([]byte, error) {
	return decompress(r.Headers.Get("content-encoding"), r.Body)
}

// DecompressHTTPBody reads and decodes the body of a net/http response
// according to its content-encoding header. The body is consumed but not
// closed.
func DecompressHTTPBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %s", err)
	}

	return decompress(resp.Header.Get("content-encoding"), body)
}

func decompress(encoding string, body []byte) ([]byte, error) {
	reader, err := makeDecompressReader(encoding, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress response: %s", err)
	}

	return data, nil
}

// Returns a reader decoding `src` according to encoding type.
func makeDecompressReader(encoding string, src io.Reader) (io.Reader, error) {
	switch encoding {
	case "br":
		return brotli.NewReader(src), nil
	case "deflate":
		return flate.NewReader(src), nil
	case "gzip":
		return gzip.NewReader(src)
	case "zstd":
		return zstd.NewReader(src)
	case "", "identity":
		return src, nil
	default:
		return nil, fmt.Errorf("unknown content-encoding: %s", encoding)
	}
}
