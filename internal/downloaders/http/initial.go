package grabhttp

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/h2non/filetype"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// ErrAlreadyDownloaded signals that the output file exists with the expected
// size; the scheduler reports these as skips, not failures.
var ErrAlreadyDownloaded = errors.New("file already exists with same size")

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

type HTTPDownloader struct{}

func (d *HTTPDownloader) ValidateJob(job *utils.GrabJob) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	return nil
}

func (d *HTTPDownloader) BuildJob(job *utils.GrabJob) error {
	client := utils.NewGrabHTTPClient(job.HTTPClientConfig)

	fileSize, fileName, err := getFileInfo(job.URL, client)
	if err != nil && err != utils.ErrRangeRequestsNotSupported {
		// Some servers refuse HEAD; fall back to what the crawl advertised.
		fileSize = job.ExpectedSize
	}
	if fileSize <= 0 && job.ExpectedSize > 0 {
		fileSize = job.ExpectedSize
	}

	if job.OutputPath == "" && fileName != "" {
		job.OutputPath = fileName
	} else if job.OutputPath == "" {
		parsedURL, _ := url.Parse(job.URL)
		pathParts := strings.Split(parsedURL.Path, "/")
		job.OutputPath = pathParts[len(pathParts)-1]
		if job.OutputPath == "" {
			job.OutputPath = "download"
		}
	}

	if existingFile, statErr := os.Stat(job.OutputPath); statErr == nil {
		if fileSize > 0 && existingFile.Size() == fileSize {
			return ErrAlreadyDownloaded
		}
		job.OutputPath = utils.RenewOutputPath(job.OutputPath)
	}

	// Only a clean HEAD reply proves range support; any probe failure means
	// single-connection.
	job.Metadata["fileSize"] = fileSize
	job.Metadata["rangeSupported"] = err == nil
	return nil
}

func (d *HTTPDownloader) Download(job *utils.GrabJob) error {
	client := utils.NewGrabHTTPClient(job.HTTPClientConfig)

	fileSize, _ := job.Metadata["fileSize"].(int64)
	rangeSupported, _ := job.Metadata["rangeSupported"].(bool)

	if dir := filepath.Dir(job.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %v", err)
		}
	}

	progressCh := make(chan int64, 100)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		var totalDownloaded int64
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case bytes, ok := <-progressCh:
				if !ok {
					if job.ProgressFunc != nil {
						job.ProgressFunc(totalDownloaded, fileSize)
					}
					return
				}
				totalDownloaded += bytes
			case <-ticker.C:
				if job.ProgressFunc != nil {
					job.ProgressFunc(totalDownloaded, fileSize)
				}
			}
		}
	}()

	var err error
	if !rangeSupported || job.Connections <= 1 || fileSize <= 0 {
		err = PerformSimpleDownload(job.URL, job.OutputPath, client, progressCh)
	} else if fileSize/int64(job.Connections) < 2*utils.DefaultBufferSize {
		// Chunks would be too small to be worth the extra connections
		err = PerformSimpleDownload(job.URL, job.OutputPath, client, progressCh)
	} else {
		config := utils.DownloadConfig{
			URL:              job.URL,
			OutputPath:       job.OutputPath,
			Connections:      job.Connections,
			HTTPClientConfig: job.HTTPClientConfig,
		}
		err = PerformMultiDownload(config, client, fileSize, progressCh)
	}
	close(progressCh)
	<-progressDone
	if err != nil {
		return err
	}

	if finalPath, renameErr := EnsureExtension(job.OutputPath); renameErr == nil {
		job.OutputPath = finalPath
	}
	return nil
}

func getFileInfo(link string, client *utils.GrabHTTPClient) (int64, string, error) {
	req, err := http.NewRequest("HEAD", link, nil)
	if err != nil {
		return 0, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	filename := ""
	if contentDisposition := resp.Header.Get("Content-Disposition"); contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if fn, ok := params["filename"]; ok && fn != "" {
				filename = filenameRegex.ReplaceAllString(fn, "_")
			} else if fn, ok := params["filename*"]; ok && fn != "" {
				if strings.HasPrefix(fn, "UTF-8''") {
					unescaped, _ := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
					filename = filenameRegex.ReplaceAllString(unescaped, "_")
				}
			}
		}
	}
	if resp.Header.Get("Accept-Ranges") != "bytes" {
		return 0, filename, utils.ErrRangeRequestsNotSupported
	}
	contentLength := resp.Header.Get("Content-Length")
	if contentLength == "" {
		return 0, filename, errors.New("server didn't provide Content-Length header")
	}
	size, err := strconv.ParseInt(contentLength, 10, 64)
	if err != nil {
		return 0, filename, err
	}
	if size <= 0 {
		return 0, filename, errors.New("invalid file size reported by server")
	}
	return size, filename, nil
}

// EnsureExtension appends an extension sniffed from the file's magic bytes
// when the name has none. Returns the (possibly renamed) path.
func EnsureExtension(path string) (string, error) {
	if filepath.Ext(path) != "" {
		return path, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return path, err
	}
	header := make([]byte, 261)
	n, _ := f.Read(header)
	f.Close()
	kind, err := filetype.Match(header[:n])
	if err != nil || kind == filetype.Unknown || kind.Extension == "" {
		return path, nil
	}
	renamed := path + "." + kind.Extension
	if err := os.Rename(path, renamed); err != nil {
		return path, err
	}
	return renamed, nil
}
