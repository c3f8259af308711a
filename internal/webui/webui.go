// Package webui embeds the browser upload page served at /.
package webui

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var embedded embed.FS

// FS is the page tree with static/ stripped.
func FS() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// Handler serves index.html at / and any other embedded asset by name.
func Handler() http.Handler {
	return http.FileServerFS(FS())
}
