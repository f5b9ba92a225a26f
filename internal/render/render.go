// Package render turns a template name plus variables into subject and bodies.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"
)

//go:embed templates
var embedded embed.FS

var ErrUnknownTemplate = errors.New("unknown template")

// Rendered is the output of a template. HTML is empty when the template has no html part.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type Renderer interface {
	Render(name string, vars map[string]any) (Rendered, error)
}

type set struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

// Templates renders from a directory tree of <name>/{subject,text,html}.tmpl files.
type Templates struct {
	sets map[string]set
}

// Default loads the templates compiled into the binary.
func Default() (*Templates, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

func Load(fsys fs.FS) (*Templates, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	t := &Templates{sets: make(map[string]set, len(entries))}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		s, err := loadSet(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}
		t.sets[e.Name()] = s
	}
	return t, nil
}

func loadSet(fsys fs.FS, name string) (set, error) {
	var s set
	read := func(file string) (string, bool, error) {
		b, err := fs.ReadFile(fsys, path.Join(name, file))
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return string(b), err == nil, err
	}

	src, ok, err := read("subject.tmpl")
	if err != nil {
		return s, err
	}
	if !ok {
		return s, errors.New("subject.tmpl is required")
	}
	if s.subject, err = template.New("subject").Option("missingkey=error").Parse(strings.TrimSpace(src)); err != nil {
		return s, err
	}

	src, ok, err = read("text.tmpl")
	if err != nil {
		return s, err
	}
	if !ok {
		return s, errors.New("text.tmpl is required")
	}
	if s.text, err = template.New("text").Option("missingkey=error").Parse(src); err != nil {
		return s, err
	}

	src, ok, err = read("html.tmpl")
	if err != nil {
		return s, err
	}
	if ok {
		if s.html, err = htmltemplate.New("html").Option("missingkey=error").Parse(src); err != nil {
			return s, err
		}
	}
	return s, nil
}

// Names lists the loaded templates.
func (t *Templates) Names() []string {
	out := make([]string, 0, len(t.sets))
	for n := range t.sets {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (t *Templates) Render(name string, vars map[string]any) (Rendered, error) {
	s, ok := t.sets[name]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}
	if vars == nil {
		vars = map[string]any{}
	}

	var out Rendered
	var buf bytes.Buffer
	if err := s.subject.Execute(&buf, vars); err != nil {
		return Rendered{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	out.Subject = strings.Join(strings.Fields(buf.String()), " ")

	buf.Reset()
	if err := s.text.Execute(&buf, vars); err != nil {
		return Rendered{}, fmt.Errorf("render %s text: %w", name, err)
	}
	out.Text = strings.TrimSpace(buf.String())

	if s.html != nil {
		buf.Reset()
		if err := s.html.Execute(&buf, vars); err != nil {
			return Rendered{}, fmt.Errorf("render %s html: %w", name, err)
		}
		out.HTML = strings.TrimSpace(buf.String())
	}
	return out, nil
}
