package main

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedirectHandler consumes redirect callbacks. *payment.Machine implements it.
type RedirectHandler interface {
	HandleRedirect(u *url.URL) bool
}

// ReturnServer listens for the customer returning from a redirect.
type ReturnServer struct {
	handler RedirectHandler
	router  *gin.Engine
	server  *http.Server
}

// NewReturnServer creates a new return listener for addr.
func NewReturnServer(h RedirectHandler, addr string) *ReturnServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &ReturnServer{
		handler: h,
		router:  router,
	}
	s.server = &http.Server{Addr: addr, Handler: router}
	router.NoRoute(s.handleReturn)
	return s
}

// Run listens until Shutdown.
func (s *ReturnServer) Run() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *ReturnServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *ReturnServer) handleReturn(c *gin.Context) {
	u := *c.Request.URL
	u.Scheme = "http"
	if c.Request.TLS != nil {
		u.Scheme = "https"
	}
	u.Host = c.Request.Host

	if !s.handler.HandleRedirect(&u) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no redirect pending for this url",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "received",
		"message": "You can close this window.",
	})
}

// listenAddress returns override, or the host of an http(s) return url.
func listenAddress(returnURL, override string) string {
	if override != "" {
		return override
	}
	u, err := url.Parse(returnURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if strings.EqualFold(u.Scheme, "https") {
			return net.JoinHostPort(host, "443")
		}
		return net.JoinHostPort(host, "80")
	}
	return host
}
