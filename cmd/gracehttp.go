package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
)

type HttpServer struct {
	Server   *http.Server
	shutdown chan struct{}
}

func NewHttpServer(addr string, handler http.Handler) *HttpServer {
	return &HttpServer{
		Server: &http.Server{
			Addr:    addr,
			Handler: handler,
		},
		shutdown: make(chan struct{}),
	}
}

func (s *HttpServer) ListenAndServe() (err error) {
	err = s.Server.ListenAndServe()
	if err == http.ErrServerClosed {
		// expected error after calling Server.Shutdown().
		err = nil
	} else if err != nil {
		err = errors.Wrap(err, "unexpected error from ListenAndServe")
		return
	}

	log.Debugln("waiting for shutdown finishing...")
	<-s.shutdown
	log.Debugln("shutdown finished")

	return
}

// WaitExitSignal shuts the server down on SIGINT, SIGTERM or when ctx is done.
func (s *HttpServer) WaitExitSignal(ctx context.Context, timeout time.Duration) {
	waiter := make(chan os.Signal, 1) // buffered channel
	signal.Notify(waiter, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(waiter)

	// blocks here until there's a signal
	select {
	case sig := <-waiter:
		log.Debugln("recv signal", sig)
	case <-ctx.Done():
		log.Debugln("context done")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.Server.Shutdown(shutdownCtx)
	if err != nil {
		log.Errorln("shutting down: " + err.Error())
	} else {
		log.Debugln("shutdown processed successfully")
	}
	close(s.shutdown)
}
