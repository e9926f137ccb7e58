package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tradegate/internal/metrics"
	"tradegate/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// hopHeaders describe the upstream transfer, not the payload we relay.
var hopHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Content-Encoding":  true,
}

// maxBodyBytes caps request bodies; the backend only takes small JSON payloads.
const maxBodyBytes = 1 << 20

// forwardedHeaders are copied from the browser request when present.
var forwardedHeaders = []string{"Cookie", "Authorization", "Accept", "X-Request-ID"}

type Handler struct {
	upstream   string
	httpClient *http.Client
}

func New(upstream string, timeout time.Duration) *Handler {
	return NewWithClient(upstream, &http.Client{
		Timeout: timeout,
		// redirects are the browser's business
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
}

func NewWithClient(upstream string, hc *http.Client) *Handler {
	return &Handler{
		upstream:   strings.TrimRight(upstream, "/"),
		httpClient: hc,
	}
}

// TargetURL maps a sub-path under the proxy prefix onto the backend. The
// backend only routes paths with a trailing slash.
func (h *Handler) TargetURL(subPath, rawQuery string) string {
	subPath = strings.TrimLeft(subPath, "/")
	target := h.upstream + "/" + subPath
	if !strings.HasSuffix(target, "/") {
		target += "/"
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Forward handles ANY /api/auth/*path.
func (h *Handler) Forward(c *gin.Context) {
	target := h.TargetURL(c.Param("path"), c.Request.URL.RawQuery)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	start := time.Now()
	resp, err := h.do(c.Request.Context(), c.Request, target, body)
	if err != nil {
		metrics.ObserveProxy(c.Request.Method, 0, time.Since(start).Seconds())
		logger.Error("proxy upstream failed",
			zap.String("method", c.Request.Method),
			zap.String("target", target),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "Failed to connect to backend"})
		return
	}
	defer resp.Body.Close()
	metrics.ObserveProxy(c.Request.Method, resp.StatusCode, time.Since(start).Seconds())

	copyResponseHeaders(c.Writer.Header(), resp.Header)
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		logger.Warn("proxy response copy interrupted", zap.String("target", target), zap.Error(err))
	}
}

func (h *Handler) do(ctx context.Context, in *http.Request, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, in.Method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}

	ct := in.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	req.Header.Set("Content-Type", ct)
	for _, name := range forwardedHeaders {
		if v := in.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	return h.httpClient.Do(req)
}

// copyResponseHeaders relays every header value individually so repeated
// headers such as Set-Cookie stay distinct.
func copyResponseHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		dst.Del(name)
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
