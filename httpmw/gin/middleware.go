// Package gin adapts httpmw's X402 gating middleware to Gin, translating
// gin.Context to the stdlib http.Handler chain httpmw.New drives and
// back to Gin's c.Next()/c.Abort() idiom, the same translation the
// teacher's own gin adapter performs (there, by duplicating the
// verify/settle pipeline against *gin.Context directly).
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/paymcp/paymcp-go/httpmw"
)

// New returns a gin.HandlerFunc gating X402-priced tools, per httpmw.New.
func New(cfg httpmw.Config) gin.HandlerFunc {
	mw := httpmw.New(cfg)
	return func(c *gin.Context) {
		proceed := false
		handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			proceed = true
			c.Request = r
		}))
		handler.ServeHTTP(c.Writer, c.Request)
		if proceed {
			c.Next()
		} else {
			c.Abort()
		}
	}
}
