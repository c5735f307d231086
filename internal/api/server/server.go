package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New creates the HTTP server. Downloads stream converted files and may
// include a slow conversion, so the write timeout is configurable.
func New(addr string, router *ginext.Engine, writeTimeout time.Duration) *http.Server {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Minute
	}

	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
