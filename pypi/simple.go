package pypi

import (
	"html/template"
	"strings"
)

// MediaTypeSimpleJSON is the PEP 691 content type for the JSON index.
const MediaTypeSimpleJSON = "application/vnd.pypi.simple.v1+json"

// IndexFile is one row of a package index listing.
type IndexFile struct {
	Filename    string
	URL         string
	SHA256      string
	ProjectURLs map[string]string
}

var simpleTemplate = template.Must(template.New("simple").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="pypi:repository-version" content="1.0">
    <title>Links for {{.Name}}</title>
</head>
<body>
    <h1>Links for {{.Name}}</h1>
{{- range .Files}}
    <a href="{{.Href}}">{{.Filename}}</a><br>
{{- end}}
</body>
</html>
`))

type simplePage struct {
	Name  string
	Files []simpleRow
}

type simpleRow struct {
	Filename string
	Href     string
}

// RenderSimpleHTML renders the PEP 503 simple index page for one package.
// Files with a known digest get the `#sha256=` fragment installers use to
// verify downloads.
func RenderSimpleHTML(name string, files []IndexFile) (string, error) {
	page := simplePage{Name: Normalize(name), Files: make([]simpleRow, 0, len(files))}
	for _, f := range files {
		page.Files = append(page.Files, simpleRow{Filename: f.Filename, Href: fileHref(f)})
	}

	var b strings.Builder
	if err := simpleTemplate.Execute(&b, page); err != nil {
		return "", err
	}
	return b.String(), nil
}

func fileHref(f IndexFile) string {
	if f.SHA256 == "" {
		return f.URL
	}
	return f.URL + "#sha256=" + f.SHA256
}

// SimpleIndex is the PEP 691 JSON document for one package.
type SimpleIndex struct {
	Meta  IndexMeta       `json:"meta"`
	Name  string          `json:"name"`
	Files []SimpleFileRow `json:"files"`
}

type IndexMeta struct {
	APIVersion string `json:"api-version"`
}

type SimpleFileRow struct {
	Filename    string            `json:"filename"`
	URL         string            `json:"url"`
	Hashes      map[string]string `json:"hashes"`
	ProjectURLs map[string]string `json:"project-urls,omitempty"`
}

// SimpleJSON builds the PEP 691 JSON index for one package.
func SimpleJSON(name string, files []IndexFile) SimpleIndex {
	index := SimpleIndex{
		Meta:  IndexMeta{APIVersion: "1.0"},
		Name:  Normalize(name),
		Files: make([]SimpleFileRow, 0, len(files)),
	}
	for _, f := range files {
		row := SimpleFileRow{
			Filename:    f.Filename,
			URL:         f.URL,
			Hashes:      map[string]string{},
			ProjectURLs: f.ProjectURLs,
		}
		if f.SHA256 != "" {
			row.Hashes["sha256"] = f.SHA256
		}
		index.Files = append(index.Files, row)
	}
	return index
}
