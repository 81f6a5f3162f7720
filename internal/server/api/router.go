package api

import (
	"embed"
	"html/template"
	"io"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const indexTemplate = "index.html"

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type templateRenderer struct {
	tpl *template.Template
}

func (r *templateRenderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	return r.tpl.ExecuteTemplate(w, name, data)
}

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = &templateRenderer{tpl: templates}
	e.HTTPErrorHandler = h.handleError(e)

	e.Use(middleware.Recover())
	e.Use(RequestLogger(h.log))
	if h.opts.RateLimitRPS > 0 {
		e.Use(NewRateLimiter(h.opts.RateLimitRPS, h.opts.RateLimitBurst, h.log).Middleware())
	}
	e.Use(h.Authorize())

	e.GET("/", h.HandleIndex)
	e.GET("/download", h.HandleArchive)
	e.GET("/*", h.HandleFile)

	return e
}
