package speedtest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/m-lab/go/warnonerror"
	"github.com/pkg/errors"
	"github.com/robertodauria/speedcheck/internal/payload"
	"github.com/robertodauria/speedcheck/pkg/speedtest/spec"
	"go.uber.org/zap"
)

// readBufferSize is the size of the buffer used to read download bodies.
const readBufferSize = 1 << 16

// Worker drives one transfer loop (download or upload) until the context
// passed to Run is done.
type Worker struct {
	// ID identifies the worker within its phase.
	ID int

	Kind   spec.SubtestKind
	Client *http.Client

	// URL is the full endpoint URL, including any query string.
	URL string

	// Size is the upload payload size in bytes. Unused for downloads, where
	// the size is part of URL.
	Size int64

	// RequestTimeout bounds a single request/response cycle. Zero means the
	// request may last until the phase deadline.
	RequestTimeout time.Duration
}

// Run repeatedly issues transfers until ctx is done or a transfer fails,
// calling onBytes for every chunk of data moved. Download chunks are
// reported as they are read; uploads are reported once per completed
// payload. Run returns when the worker has stopped.
func (w *Worker) Run(ctx context.Context, onBytes func(n int64)) {
	switch w.Kind {
	case spec.SubtestDownload:
		w.download(ctx, onBytes)
	case spec.SubtestUpload:
		w.upload(ctx, onBytes)
	default:
		zap.L().Sugar().Errorw("Invalid worker kind", "kind", w.Kind)
	}
}

func (w *Worker) download(ctx context.Context, onBytes func(int64)) {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		if err := w.downloadOnce(ctx, buf, onBytes); err != nil {
			if w.canRetry(ctx, err) {
				continue
			}
			return
		}
	}
}

func (w *Worker) downloadOnce(ctx context.Context, buf []byte, onBytes func(int64)) error {
	reqCtx, cancel := w.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, w.URL, nil)
	if err != nil {
		return errors.Wrap(err, "cannot create download request")
	}
	setNoStore(req.Header)
	resp, err := w.client().Do(req)
	if err != nil {
		return errors.Wrap(err, "download request failed")
	}
	defer warnonerror.Close(resp.Body, "cannot close download response body")

	if resp.StatusCode/100 != 2 {
		return errors.Errorf("download: unexpected status %d", resp.StatusCode)
	}
	for {
		// Once the deadline has passed, stop crediting bytes.
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := resp.Body.Read(buf)
		if n > 0 {
			onBytes(int64(n))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "download read failed")
		}
	}
}

func (w *Worker) upload(ctx context.Context, onBytes func(int64)) {
	buf := make([]byte, w.Size)
	for ctx.Err() == nil {
		if err := payload.Fill(buf); err != nil {
			zap.L().Sugar().Errorw("Cannot generate upload payload",
				"stream", w.ID, "error", err)
			return
		}
		if err := w.uploadOnce(ctx, buf); err != nil {
			if w.canRetry(ctx, err) {
				continue
			}
			return
		}
		onBytes(int64(len(buf)))
	}
}

func (w *Worker) uploadOnce(ctx context.Context, data []byte) error {
	reqCtx, cancel := w.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(data))
	if err != nil {
		return errors.Wrap(err, "cannot create upload request")
	}
	setNoStore(req.Header)
	req.Header.Set("Content-Type", "application/octet-stream")
	resp, err := w.client().Do(req)
	if err != nil {
		return errors.Wrap(err, "upload request failed")
	}
	defer warnonerror.Close(resp.Body, "cannot close upload response body")

	// The sink replies with a short JSON document; read it so the
	// connection can be reused.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return errors.Wrap(err, "cannot read upload response")
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("upload: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// canRetry logs a failed transfer and tells whether the worker should issue
// a new request. Only a per-request timeout is retried: any other failure
// ends the worker.
func (w *Worker) canRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		zap.L().Sugar().Debugw("Transfer stopped at deadline",
			"kind", w.Kind, "stream", w.ID)
		return false
	}
	if w.RequestTimeout > 0 && errors.Is(err, context.DeadlineExceeded) {
		zap.L().Sugar().Infow("Transfer timed out, retrying",
			"kind", w.Kind, "stream", w.ID, "timeout", w.RequestTimeout)
		return true
	}
	zap.L().Sugar().Warnw("Transfer failed",
		"kind", w.Kind, "stream", w.ID, "error", err)
	return false
}

func (w *Worker) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.RequestTimeout > 0 {
		return context.WithTimeout(ctx, w.RequestTimeout)
	}
	return context.WithCancel(ctx)
}

func (w *Worker) client() *http.Client {
	if w.Client != nil {
		return w.Client
	}
	return http.DefaultClient
}

func setNoStore(h http.Header) {
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
}
