package viewer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"path"
	"sort"
	"strings"

	"github.com/tdewolff/minify/v2"
	minhtml "github.com/tdewolff/minify/v2/html"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

//go:embed all:docs
var docsFS embed.FS

type docPage struct {
	Slug  string
	Title string
	Body  []byte // minified HTML, rendered once at startup
}

const docShell = `<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>%s — klink</title>
<style>
body { font-family: sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; line-height: 1.5; }
pre { padding: 0.75rem; overflow-x: auto; border-radius: 4px; }
code { font-size: 0.9em; }
nav a { margin-right: 1rem; }
</style>
</head>
<body>
<nav>%s</nav>
%s
</body>
</html>`

// loadDocs renders the embedded markdown pages. Fenced code blocks get
// chroma highlighting; the final HTML is minified once so requests are a
// plain byte write.
func loadDocs() []docPage {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.Table,
			highlighting.NewHighlighting(
				highlighting.WithStyle("monokai"),
			),
		),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	m := minify.New()
	m.AddFunc("text/html", minhtml.Minify)

	entries, err := docsFS.ReadDir("docs")
	if err != nil {
		return nil
	}

	var pages []docPage
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		data, err := docsFS.ReadFile(path.Join("docs", e.Name()))
		if err != nil {
			continue
		}

		// "01-overview.md" -> slug "overview".
		name := strings.TrimSuffix(e.Name(), ".md")
		slug := name
		if parts := strings.SplitN(name, "-", 2); len(parts) == 2 {
			slug = parts[1]
		}

		title := slug
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if strings.HasPrefix(line, "# ") {
				title = strings.TrimPrefix(line, "# ")
				break
			}
		}

		var buf bytes.Buffer
		if err := md.Convert(data, &buf); err != nil {
			log.Printf("VIEWER: render doc %s: %v", e.Name(), err)
			continue
		}

		pages = append(pages, docPage{Slug: slug, Title: title, Body: buf.Bytes()})
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Slug < pages[j].Slug })

	// Wrap and minify each page with a nav over all pages.
	var nav strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&nav, `<a href="/docs/%s">%s</a>`, p.Slug, template.HTMLEscapeString(p.Title))
	}
	for i := range pages {
		full := fmt.Sprintf(docShell, template.HTMLEscapeString(pages[i].Title), nav.String(), pages[i].Body)
		out, err := m.Bytes("text/html", []byte(full))
		if err != nil {
			log.Printf("VIEWER: minify doc %s: %v (using original)", pages[i].Slug, err)
			out = []byte(full)
		}
		pages[i].Body = out
	}
	return pages
}

func registerDocs(mux *http.ServeMux) {
	pages := loadDocs()
	bySlug := make(map[string]*docPage, len(pages))
	for i := range pages {
		bySlug[pages[i].Slug] = &pages[i]
	}

	mux.HandleFunc("/docs/", func(w http.ResponseWriter, r *http.Request) {
		slug := strings.Trim(strings.TrimPrefix(r.URL.Path, "/docs"), "/")
		if slug == "" && len(pages) > 0 {
			slug = pages[0].Slug
		}
		page, ok := bySlug[slug]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page.Body)
	})
	mux.Handle("/docs", http.RedirectHandler("/docs/", http.StatusMovedPermanently))
}
