// Package spec contains constants for the speedcheck HTTP protocol.
package spec

import "time"

const (
	// MiB is the unit used by the download size parameter.
	MiB = 1 << 20

	// RandomFillLimit is the maximum number of bytes requested from the
	// randomness source in a single call.
	RandomFillLimit = 1 << 16

	// MinProgressInterval is the minimum interval between subsequent
	// progress samples within a phase.
	MinProgressInterval = 200 * time.Millisecond

	// DefaultLatencySamples is the number of sequential round-trips used to
	// estimate latency.
	DefaultLatencySamples = 5

	// DefaultDownloadDuration is the wall-clock budget of a download phase.
	DefaultDownloadDuration = 8 * time.Second
	// DefaultDownloadStreams is the number of concurrent download workers.
	DefaultDownloadStreams = 6
	// DefaultDownloadSizeMiB is the payload size requested by each download.
	DefaultDownloadSizeMiB = 10
	// MaxDownloadSizeMiB is the largest payload the download endpoint serves.
	MaxDownloadSizeMiB = 1024

	// DefaultUploadDuration is the wall-clock budget of an upload phase.
	DefaultUploadDuration = 8 * time.Second
	// DefaultUploadStreams is the number of concurrent upload workers.
	DefaultUploadStreams = 4
	// DefaultUploadSize is the size of every uploaded payload.
	DefaultUploadSize = 2 * MiB

	// PingPath selects the liveness endpoint.
	PingPath = "/api/ping"
	// DownloadPath selects the download-payload endpoint.
	DownloadPath = "/api/download"
	// UploadPath selects the upload-sink endpoint.
	UploadPath = "/api/upload"

	// SizeParameterName is the query parameter carrying the download size in MiB.
	SizeParameterName = "size"
)

// SubtestKind indicates the subtest kind
type SubtestKind string

const (
	// SubtestLatency is a latency subtest
	SubtestLatency = SubtestKind("latency")

	// SubtestDownload is a download subtest
	SubtestDownload = SubtestKind("download")

	// SubtestUpload is a upload subtest
	SubtestUpload = SubtestKind("upload")
)
