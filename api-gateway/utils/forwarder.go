package utils

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ticketchief/backend/api-gateway/middlewares"
	"github.com/ticketchief/backend/services/common/middleware"
	"go.uber.org/zap"
)

type ForwardOptions struct {
	TargetBase  string
	StripPrefix string
}

// identityHeaders are set only by the gateway; client-supplied values are dropped.
var identityHeaders = []string{middleware.UserIDHeader, middleware.UserEmailHeader, "X-User-Role"}

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// Forwarder proxies requests to downstream services. Redirects are returned
// to the client rather than followed.
type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

func NewForwarder(timeout time.Duration, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// To returns a handler forwarding to targetBase plus the *any path parameter.
func (f *Forwarder) To(targetBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		f.ForwardRequest(c, ForwardOptions{TargetBase: targetBase})
	}
}

func (f *Forwarder) ForwardRequest(c *gin.Context, opts ForwardOptions) {
	targetPath := c.Param("any")
	if opts.StripPrefix != "" {
		targetPath = strings.TrimPrefix(targetPath, opts.StripPrefix)
	}

	targetURL := opts.TargetBase + targetPath
	if c.Request.URL.RawQuery != "" {
		targetURL += "?" + c.Request.URL.RawQuery
	}

	f.logger.Info("Forwarding request",
		zap.String("method", c.Request.Method),
		zap.String("url", targetURL),
		zap.String("path", targetPath),
	)

	req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, c.Request.Body)
	if err != nil {
		f.logger.Error("Failed to create forward request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
		return
	}
	req.ContentLength = c.Request.ContentLength

	for k, v := range c.Request.Header {
		req.Header[k] = v
	}
	for _, h := range identityHeaders {
		req.Header.Del(h)
	}

	// Inject user claims headers for downstream services
	if uid := c.GetString(middlewares.UserIDKey); uid != "" {
		req.Header.Set(middleware.UserIDHeader, uid)
	}
	if email := c.GetString(middlewares.EmailKey); email != "" {
		req.Header.Set(middleware.UserEmailHeader, email)
	}
	if role := c.GetString(middlewares.RoleKey); role != "" {
		req.Header.Set("X-User-Role", role)
	}
	if rid := c.GetString(middleware.RequestIDKey); rid != "" {
		req.Header.Set(middleware.RequestIDHeader, rid)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error("Failed to forward request", zap.String("url", targetURL), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "service unreachable"})
		return
	}
	defer resp.Body.Close()

	for k, v := range resp.Header {
		lowerKey := strings.ToLower(k)
		// CORS is handled by the gateway itself
		if strings.HasPrefix(lowerKey, "access-control-") || hopByHop[lowerKey] {
			continue
		}
		c.Header(k, strings.Join(v, ","))
	}

	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		f.logger.Error("Failed to copy response body", zap.Error(err))
	}
}
