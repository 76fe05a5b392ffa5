package requestlog

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/tidwall/gjson"
)

// TailBuffer keeps the last TailBufferSize bytes written to it.
type TailBuffer struct {
	buf       []byte
	total     int64
	truncated bool
}

// Write never fails.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.total += int64(len(p))
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - TailBufferSize; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	return len(p), nil
}

// Bytes returns the retained tail.
func (t *TailBuffer) Bytes() []byte { return t.buf }

// Total is the number of bytes written, including discarded ones.
func (t *TailBuffer) Total() int64 { return t.total }

// Complete reports whether the tail still holds everything written.
func (t *TailBuffer) Complete() bool { return !t.truncated }

// ExtractModel returns the model named in a request body, if any.
// Ollama uses "model" for generation and "name" for some management calls.
func ExtractModel(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String {
		return m.String()
	}
	if m := gjson.GetBytes(body, "name"); m.Type == gjson.String {
		return m.String()
	}
	return ""
}

// Tokens is the usage reported by a backend in its final response object.
type Tokens struct {
	Prompt     int
	Completion int
}

// ExtractTokens scans a response body (or its tail) from the last line
// backwards for a usage report. It understands Ollama's native counters,
// OpenAI-style usage objects, NDJSON streams and SSE "data:" framing.
// Compressed bodies are only decoded when complete is true.
func ExtractTokens(body []byte, contentEncoding string, complete bool) (Tokens, bool) {
	if enc := strings.ToLower(strings.TrimSpace(contentEncoding)); enc != "" && enc != "identity" {
		if !complete {
			return Tokens{}, false
		}
		decoded, err := decompress(body, enc)
		if err != nil {
			return Tokens{}, false
		}
		body = decoded
	}

	lines := bytes.Split(body, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		line = bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(line) == 0 || line[0] != '{' || !gjson.ValidBytes(line) {
			continue
		}
		if t, ok := tokensFrom(line); ok {
			return t, true
		}
	}
	return Tokens{}, false
}

func tokensFrom(obj []byte) (Tokens, bool) {
	res := gjson.GetManyBytes(obj,
		"prompt_eval_count", "eval_count",
		"usage.prompt_tokens", "usage.completion_tokens")

	if res[0].Exists() || res[1].Exists() {
		return Tokens{Prompt: int(res[0].Int()), Completion: int(res[1].Int())}, true
	}
	if res[2].Exists() || res[3].Exists() {
		return Tokens{Prompt: int(res[2].Int()), Completion: int(res[3].Int())}, true
	}
	return Tokens{}, false
}

func decompress(body []byte, encoding string) ([]byte, error) {
	var r io.Reader
	switch encoding {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "br":
		r = brotli.NewReader(bytes.NewReader(body))
	case "deflate":
		// Servers disagree on whether deflate carries the zlib wrapper.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(body))
			defer fr.Close()
			r = fr
		}
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
	return io.ReadAll(r)
}
