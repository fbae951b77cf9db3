// Package pocketbase adapts httpmw's X402 gating middleware to
// PocketBase's router, which chains handlers as func(*core.RequestEvent)
// error rather than net/http's signature. The teacher's own pocketbase
// adapter has no implementation file in the retrieved pack — only its
// test file and examples/pocketbase/main.go's usage survive, which this
// is grounded on: construction via New(config), mounting with
// router.Group(...).BindFunc(middleware), and continuing the chain via
// e.Next().
package pocketbase

import (
	"net/http"

	"github.com/pocketbase/pocketbase/core"

	"github.com/paymcp/paymcp-go/httpmw"
)

// New returns PocketBase request-event middleware gating X402-priced
// tools, per httpmw.New.
func New(cfg httpmw.Config) func(e *core.RequestEvent) error {
	mw := httpmw.New(cfg)
	return func(e *core.RequestEvent) error {
		proceed := false
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proceed = true
			e.Request = r
		}))
		handler.ServeHTTP(e.Response, e.Request)
		if proceed {
			return e.Next()
		}
		return nil
	}
}
