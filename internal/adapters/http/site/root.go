// Package site serves the embedded duel page.
package site

import (
	"context"
	"net/http"
)

// Register attaches the duel page to mux at /.
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.Handle("GET /", http.FileServer(FS()))
}
