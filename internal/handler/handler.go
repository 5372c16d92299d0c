package handler

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	guuid "github.com/google/uuid"
	"github.com/m-lab/uuid"
	"github.com/robertodauria/speedcheck/internal/metrics"
	"github.com/robertodauria/speedcheck/internal/payload"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

// chunkSize is the size of every write of the download endpoint.
const chunkSize = 256 * 1024

type flowKey struct{}

// Handler serves the speedcheck endpoints.
type Handler struct {
	// payload is written over and over by the download endpoint.
	payload []byte
}

// New creates a new Handler with a freshly generated 1 MiB payload.
func New() (*Handler, error) {
	buf, err := payload.New(spec.MiB)
	if err != nil {
		return nil, err
	}
	return &Handler{payload: buf}, nil
}

// NewRouter returns a gin.Engine serving h's endpoints.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logRequests)
	r.GET(spec.PingPath, h.Ping)
	r.GET(spec.DownloadPath, h.Download)
	r.POST(spec.UploadPath, h.Upload)
	return r
}

// ConnContext tags every connection with the UUID of its TCP flow. It is
// meant to be used as http.Server.ConnContext.
func ConnContext(ctx context.Context, c net.Conn) context.Context {
	return context.WithValue(ctx, flowKey{}, flowID(c))
}

func flowID(c net.Conn) string {
	if tc, ok := c.(*net.TCPConn); ok {
		id, err := uuid.FromTCPConn(tc)
		if err == nil {
			return id
		}
		zap.L().Sugar().Debugw("Cannot get UUID for the connection", "error", err)
	}
	return guuid.NewString()
}

func logRequests(c *gin.Context) {
	start := time.Now()
	c.Next()
	status := strconv.Itoa(c.Writer.Status())
	metrics.Requests.WithLabelValues(c.FullPath(), status).Inc()
	id, _ := c.Request.Context().Value(flowKey{}).(string)
	zap.L().Sugar().Debugw("Request served",
		"flow", id,
		"method", c.Request.Method,
		"url", c.Request.URL.String(),
		"client", c.ClientIP(),
		"status", status,
		"elapsed", time.Since(start))
}

func noCache(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
}

// Ping handles the liveness endpoint.
func (h *Handler) Ping(c *gin.Context) {
	noCache(c)
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UnixMilli(),
		"pong":      true,
	})
}

// Download streams the requested number of MiB.
func (h *Handler) Download(c *gin.Context) {
	noCache(c)
	sizeMiB := spec.DefaultDownloadSizeMiB
	if s := c.Query(spec.SizeParameterName); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > spec.MaxDownloadSizeMiB {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid size"})
			return
		}
		sizeMiB = v
	}
	size := int64(sizeMiB) * spec.MiB
	c.DataFromReader(http.StatusOK, size, "application/octet-stream",
		&repeatReader{buf: h.payload, remaining: size}, nil)
}

// Upload drains the request body and replies with the number of bytes read.
func (h *Handler) Upload(c *gin.Context) {
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	body := c.Request.Body
	if body == nil || body == http.NoBody {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No data received"})
		return
	}
	n, err := io.Copy(io.Discard, body)
	metrics.BytesReceived.Add(float64(n))
	if err != nil {
		zap.L().Sugar().Warnw("Upload failed", "bytes", n, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"bytesReceived": n,
	})
}

// repeatReader yields remaining bytes taken from buf, starting over from the
// beginning of buf as needed.
type repeatReader struct {
	buf       []byte
	remaining int64
}

func (r *repeatReader) next(limit int) int {
	n := int64(len(r.buf))
	if int64(limit) < n {
		n = int64(limit)
	}
	if r.remaining < n {
		n = r.remaining
	}
	return int(n)
}

func (r *repeatReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	n := copy(p, r.buf[:r.next(len(p))])
	r.remaining -= int64(n)
	return n, nil
}

// WriteTo writes the payload in chunkSize slices, without copying.
func (r *repeatReader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	defer func() {
		metrics.BytesSent.Add(float64(total))
	}()
	for r.remaining > 0 {
		n, err := w.Write(r.buf[:r.next(chunkSize)])
		total += int64(n)
		r.remaining -= int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
