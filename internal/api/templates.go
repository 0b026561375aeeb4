package api

import (
	"embed"
	"html/template"
	"io/fs"
)

//go:embed templates/*
var templateFS embed.FS

var templates = mustParseTemplates()

func mustParseTemplates() map[string]*template.Template {
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}

	sets := make(map[string]*template.Template)
	for _, file := range files {
		name := file[len("templates/"):]
		sets[name] = template.Must(template.New(name).ParseFS(templateFS, file))
	}
	return sets
}
