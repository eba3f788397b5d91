// Package web serves an embedded HTML dashboard, a JSON API and Prometheus
// metrics over HTTP. Binds to localhost by default; no auth.
package web

import "embed"

//go:embed static/index.html
var staticFS embed.FS
