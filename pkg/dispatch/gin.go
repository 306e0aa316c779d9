package dispatch

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinRecovery returns gin middleware that answers panics and errors attached
// with c.Error through Handle. Errors are only handled when the handler has
// not written a response; the last attached error wins.
func (f *FrontController) GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			f.abort(c, recovered(v))
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			f.abort(c, c.Errors.Last().Err)
		}
	}
}

func (f *FrontController) abort(c *gin.Context, err error) {
	resp := f.Handle(c.Request.Context(), err)
	resp.Send(c.Writer)
	c.Abort()
}
