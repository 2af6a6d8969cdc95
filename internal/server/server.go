package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/raideye/raideye/internal/handlers"
)

type Server struct {
	echo *echo.Echo
	addr string
}

func NewServer(addr string, pingHandler *handlers.PingHandler, statusHandler *handlers.StatusHandler) *Server {
	if addr == "" {
		addr = ":8090"
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	if pingHandler != nil {
		pingHandler.Register(e)
	}
	if statusHandler != nil {
		statusHandler.Register(e)
	}

	return &Server{
		echo: e,
		addr: addr,
	}
}

func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
