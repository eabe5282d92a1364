// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package curate

import (
	"bytes"
	"fmt"
	"text/template"
)

func mustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Parse(text))
}

func render(tmpl *template.Template, data any) string {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		panic(fmt.Sprintf("rendering %s prompt: %v", tmpl.Name(), err))
	}
	return buf.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}
