package utils

import (
	"errors"
	"regexp"
	"time"
)

type Downloader interface {
	Download(job *GrabJob) error
	BuildJob(job *GrabJob) error
	ValidateJob(job *GrabJob) error
}

type GrabJob struct {
	ID               string
	JobType          string
	OutputPath       string
	ProgressFunc     func(downloaded, total int64)
	URL              string
	ExpectedSize     int64
	Connections      int
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type DownloadConfig struct {
	URL              string
	OutputPath       string
	Connections      int
	HTTPClientConfig HTTPClientConfig
}

type DownloadChunk struct {
	ID         int
	StartByte  int64
	EndByte    int64
	Downloaded int64
	Completed  bool
	Retries    int
	LastError  error
	StartTime  time.Time
	FinishTime time.Time
}

type DownloadJob struct {
	Config    DownloadConfig
	FileSize  int64
	Chunks    []DownloadChunk
	StartTime time.Time
	TempFiles []string
}

const DefaultBufferSize = 1024 * 1024 * 2 // 2MB buffer

// TempDirName is the per-destination scratch directory for partial downloads.
const TempDirName = ".moodlegrab-temp"

var ErrRangeRequestsNotSupported = errors.New("range requests are not supported")
var ChunkIDRegex = regexp.MustCompile(`\.part(\d+)$`)
