package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
)

type PageHandler struct {
	staticDir string
}

func NewPageHandler(staticDir string) *PageHandler {
	return &PageHandler{staticDir: staticDir}
}

// Serve answers everything no route claimed. /portfolio resolves to
// portfolio.html, then portfolio/index.html, inside the static dir.
func (h *PageHandler) Serve(c *gin.Context) {
	if h.staticDir != "" && (c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead) {
		if file, ok := h.resolve(c.Request.URL.Path); ok {
			c.File(file)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

func (h *PageHandler) resolve(urlPath string) (string, bool) {
	clean := filepath.Clean("/" + urlPath)
	base := filepath.Join(h.staticDir, clean)

	candidates := []string{base, base + ".html", filepath.Join(base, "index.html")}
	for _, f := range candidates {
		if st, err := os.Stat(f); err == nil && !st.IsDir() {
			return f, true
		}
	}
	return "", false
}
