package webui

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed web/*
var embedded embed.FS

func FS() (fs.FS, error) {
	return fs.Sub(embedded, "web")
}

// IndexTemplate parses the dashboard page.
func IndexTemplate() (*template.Template, error) {
	sub, err := FS()
	if err != nil {
		return nil, err
	}
	return template.ParseFS(sub, "index.html")
}
