package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/page.html")
	if err != nil {
		pageTemplate = template.Must(template.New("page").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	pageTemplate = template.Must(template.New("page").Funcs(funcMap).Parse(string(templateContent)))
}

// PageData holds data for page template rendering. ContentHTML must already
// be safe markup.
type PageData struct {
	Title       string
	ContentHTML template.HTML
	PublishedAt time.Time
	Digest      string
}

// RenderPage wraps rendered document markup in a standalone HTML page.
func RenderPage(data PageData) (string, error) {
	if data.Title == "" {
		data.Title = "Untitled"
	}
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  {{.ContentHTML}}
</body>
</html>`
