package handlers

import (
	_ "embed"
	"net/http"
	"strings"
)

// DocumentPath is where the router mounts OpenAPIJSON; the docs page loads it from there.
const DocumentPath = "/v1/openapi.json"

//go:embed openapi.json
var apiDocument []byte

var docsPage = strings.ReplaceAll(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8" />
<title>imgshrink - compression API</title>
<meta name="viewport" content="width=device-width, initial-scale=1" />
<style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
</head>
<body>
<redoc spec-url="{{document}}"></redoc>
<script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
</body>
</html>`, "{{document}}", DocumentPath)

// OpenAPIJSON serves the embedded description of the compress, formats and
// health endpoints.
func (a *App) OpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(apiDocument)
}

// OpenAPIDocs renders the document with Redoc.
func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(docsPage))
}
