// Package httputil has small helpers shared by the HTTP-facing packages.
package httputil

import (
	"fmt"
	"io"
	"net/http"
)

// CheckResponse returns an error unless the response status is one of
// want. The error carries the start of the response body; repository
// servers usually put the missing path or the auth failure there.
func CheckResponse(resp *http.Response, want ...int) error {
	for _, code := range want {
		if resp.StatusCode == code {
			return nil
		}
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if len(snippet) > 0 {
		return fmt.Errorf("unexpected status %s (body starts %q)", resp.Status, snippet)
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}
