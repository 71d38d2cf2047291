package web

import (
    "embed"
    "html/template"
    "net/http"

    "github.com/rs/zerolog/log"

    "github.com/local/pagesort/internal/imagemetric"
)

//go:embed templates/*.html
var templates embed.FS

// PageData fills the upload form defaults.
type PageData struct {
    Metrics       []imagemetric.Kind
    DefaultSortBy string
    Unit          string
    MaxWidth      float64
    MaxHeight     float64
    UploadMaxMB   int
}

type Web struct {
    tpl  *template.Template
    data PageData
}

func New(data PageData) *Web {
    tpl := template.Must(template.ParseFS(templates, "templates/*.html"))
    if len(data.Metrics) == 0 { data.Metrics = imagemetric.Kinds() }
    if data.DefaultSortBy == "" { data.DefaultSortBy = string(imagemetric.Brightness) }
    return &Web{tpl: tpl, data: data}
}

func (w *Web) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("GET /{$}", w.handleIndex)
}

func (w *Web) handleIndex(wr http.ResponseWriter, r *http.Request) {
    wr.Header().Set("Content-Type", "text/html; charset=utf-8")
    if err := w.tpl.ExecuteTemplate(wr, "upload.html", w.data); err != nil {
        log.Error().Err(err).Msg("render upload page")
    }
}
