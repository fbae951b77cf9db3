// Package chi adapts httpmw's X402 gating middleware to chi's router.
// chi middleware is already the stdlib func(http.Handler) http.Handler
// shape httpmw.New returns, so unlike the teacher's own chi adapter
// (which duplicated the whole verify/settle pipeline behind a shared
// internal/helpers package), this is a direct passthrough.
package chi

import (
	"net/http"

	"github.com/paymcp/paymcp-go/httpmw"
)

// New returns chi-compatible middleware gating X402-priced tools, per
// httpmw.New.
func New(cfg httpmw.Config) func(http.Handler) http.Handler {
	return httpmw.New(cfg)
}
