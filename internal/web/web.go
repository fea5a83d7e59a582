// Package web carries the minimal server-rendered pages for the browser side
// of the desktop login and registration flows. Markup is intentionally thin:
// page presentation is an interface boundary, not a feature of this service.
package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Templates parses the embedded page templates.
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))
}
