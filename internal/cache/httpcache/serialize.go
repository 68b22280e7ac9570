package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httputil"
)

const PREFIX = "---HTTP-RESPONSE---\n"

// Serialize dumps the full response (status line, headers and body) in HTTP/1.1 wire format.
// The body of resp is restored and can still be read afterwards.
func Serialize(resp *http.Response) ([]byte, error) {
	snapshot := *resp
	if snapshot.ProtoMajor == 0 {
		snapshot.Proto, snapshot.ProtoMajor, snapshot.ProtoMinor = "HTTP/1.1", 1, 1
	}

	b, err := httputil.DumpResponse(&snapshot, true)
	if err != nil {
		return nil, err
	}
	resp.Body = snapshot.Body

	return append([]byte(PREFIX), b...), nil
}

func Deserialize(b []byte) (*http.Response, error) {
	if !bytes.HasPrefix(b, []byte(PREFIX)) {
		n := min(len(b), len(PREFIX))
		return nil, fmt.Errorf("invalid prefix: expected '%s', got '%s'", PREFIX, string(b[:n]))
	}

	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b[len(PREFIX):])), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to deserialize response: %w", err)
	}

	return resp, nil
}
