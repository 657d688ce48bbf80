package report

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// DefaultSummary renders a markdown run summary from a pipeline.Summary.
const DefaultSummary = `# Network pharmacology run

- Drugs: {{ join ", " .Drugs }}
- Disease: {{ .Disease }}
- Generated: {{ dateInZone "2006-01-02 15:04:05 MST" .GeneratedAt "UTC" }}

| phase | rows |
|---|---|
{{- range .Phases }}
| {{ .Name }} | {{ .Rows }} |
{{- end }}
{{ range .Phases }}
## {{ .Name | title | replace "_" " " }}
{{ if .Sources }}
| source | rows |
|---|---|
{{- range $source, $rows := .Sources }}
| {{ default "unknown" $source }} | {{ $rows }} |
{{- end }}
{{ else }}
No rows.
{{ end }}
{{- end }}
## Shared targets

{{ if .SharedTargets -}}
{{ len .SharedTargets }} targets appear in both the compound and the disease sets:
{{ .SharedTargets | sortAlpha | join ", " }}
{{- else -}}
No target is shared between the compound and the disease sets.
{{- end }}
`

// Renderer compiles text templates with the Sprig function set. Sprig's
// environment and filesystem helpers are removed so templates only see the
// data they are given.
type Renderer struct {
	funcs template.FuncMap
}

// Template is a compiled template. Templates are safe for concurrent use.
type Template struct {
	name string
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"} {
		delete(funcs, name)
	}
	return &Renderer{funcs: template.FuncMap(funcs)}
}

// Compile parses an inline template source.
func (r *Renderer) Compile(name, source string) (*Template, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("report: empty template")
	}
	if name == "" {
		name = "inline"
	}
	tmpl, err := template.New(name).Funcs(r.funcs).Option("missingkey=zero").Parse(source)
	if err != nil {
		return nil, fmt.Errorf("report: compile %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// CompileFile reads and parses a template file.
func (r *Renderer) CompileFile(path string) (*Template, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("report: read %q: %w", path, err)
	}
	return r.Compile(filepath.Base(path), string(contents))
}

// Render executes the template with data.
func (t *Template) Render(data any) (string, error) {
	if t == nil {
		return "", errors.New("report: nil template")
	}
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("report: execute %q: %w", t.name, err)
	}
	return buf.String(), nil
}

// Name exposes the template name for logs.
func (t *Template) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}
