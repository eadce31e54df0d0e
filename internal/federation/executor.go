package federation

import (
	"net/http"
	"net/http/httptest"
	"strings"
)

func executeAgainst(h http.Handler, method, path string, headers map[string]string, body string) (int, map[string]string, string) {
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	outHeaders := map[string]string{}
	for k, values := range rr.Header() {
		if len(values) > 0 {
			outHeaders[k] = values[0]
		}
	}
	return rr.Code, outHeaders, rr.Body.String()
}
