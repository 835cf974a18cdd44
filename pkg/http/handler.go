package http

import "github.com/labstack/echo/v4"

// Handler defines HTTP route registration interface.
type Handler interface {
	RegisterRoutes(g *echo.Group)
}

// Handlers registers several handlers as one.
type Handlers []Handler

func (hs Handlers) RegisterRoutes(g *echo.Group) {
	for _, h := range hs {
		if h != nil {
			h.RegisterRoutes(g)
		}
	}
}
