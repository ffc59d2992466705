package grabhttp

import (
	"bytes"
	"crypto/rand"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

func drainProgress(progressCh <-chan int64) (*sync.WaitGroup, *int64) {
	var wg sync.WaitGroup
	var total int64
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := range progressCh {
			total += n
		}
	}()
	return &wg, &total
}

func testContent(t *testing.T, size int) []byte {
	t.Helper()
	content := make([]byte, size)
	if _, err := rand.Read(content); err != nil {
		t.Fatal(err)
	}
	return content
}

func newFileServer(content []byte) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "file.bin", time.Now(), bytes.NewReader(content))
	}))
}

func TestPerformSimpleDownload(t *testing.T) {
	t.Parallel()
	content := testContent(t, 64*1024)
	server := newFileServer(content)
	t.Cleanup(server.Close)

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	client := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	progressCh := make(chan int64, 100)
	wg, total := drainProgress(progressCh)

	err := PerformSimpleDownload(server.URL, outputPath, client, progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content differs")
	}
	if *total != int64(len(content)) {
		t.Errorf("progress total = %d, want %d", *total, len(content))
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(outputPath), utils.TempDirName, "file.bin.part")); !os.IsNotExist(err) {
		t.Error("part file should be gone after finalize")
	}
}

func TestPerformSimpleDownloadResumes(t *testing.T) {
	t.Parallel()
	content := testContent(t, 64*1024)
	var sawRange atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Range") != "" {
			sawRange.Store(true)
		}
		http.ServeContent(w, r, "file.bin", time.Now(), bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "file.bin")
	tempDir := filepath.Join(dir, utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatal(err)
	}
	half := len(content) / 2
	if err := os.WriteFile(filepath.Join(tempDir, "file.bin.part"), content[:half], 0644); err != nil {
		t.Fatal(err)
	}

	client := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	progressCh := make(chan int64, 100)
	wg, total := drainProgress(progressCh)

	err := PerformSimpleDownload(server.URL, outputPath, client, progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if !sawRange.Load() {
		t.Error("expected a Range request for the resume")
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("resumed content differs")
	}
	if *total != int64(len(content)) {
		t.Errorf("progress total = %d, want %d", *total, len(content))
	}
}

func TestPerformSimpleDownloadRetries(t *testing.T) {
	t.Parallel()
	content := testContent(t, 8*1024)
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Now(), bytes.NewReader(content))
	}))
	t.Cleanup(server.Close)

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	client := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	progressCh := make(chan int64, 100)
	wg, _ := drainProgress(progressCh)

	err := PerformSimpleDownload(server.URL, outputPath, client, progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if attempts.Load() < 2 {
		t.Errorf("attempts = %d, want at least 2", attempts.Load())
	}
	got, _ := os.ReadFile(outputPath)
	if !bytes.Equal(got, content) {
		t.Error("content differs after retry")
	}
}

func TestPerformMultiDownload(t *testing.T) {
	t.Parallel()
	content := testContent(t, 100*1024)
	server := newFileServer(content)
	t.Cleanup(server.Close)

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	client := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	progressCh := make(chan int64, 1000)
	wg, total := drainProgress(progressCh)

	config := utils.DownloadConfig{
		URL:         server.URL,
		OutputPath:  outputPath,
		Connections: 4,
	}
	err := PerformMultiDownload(config, client, int64(len(content)), progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("assembled content differs")
	}
	if *total != int64(len(content)) {
		t.Errorf("progress total = %d, want %d", *total, len(content))
	}
}

func TestPerformSimpleDownloadRestartsWhenRangeIgnored(t *testing.T) {
	t.Parallel()
	content := testContent(t, 64*1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Full body with a 200 no matter what Range asked for.
		w.Write(content)
	}))
	t.Cleanup(server.Close)

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "file.bin")
	tempDir := filepath.Join(dir, utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		t.Fatal(err)
	}
	stale := bytes.Repeat([]byte{0xFF}, len(content)/2)
	if err := os.WriteFile(filepath.Join(tempDir, "file.bin.part"), stale, 0644); err != nil {
		t.Fatal(err)
	}

	client := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	progressCh := make(chan int64, 100)
	wg, total := drainProgress(progressCh)

	err := PerformSimpleDownload(server.URL, outputPath, client, progressCh)
	close(progressCh)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(outputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("restarted download should discard the stale partial data")
	}
	if *total != int64(len(content)) {
		t.Errorf("progress total = %d, want %d", *total, len(content))
	}
}

// A failed HEAD probe must not be read as range support: the transfer falls
// back to a single connection instead of demanding 206s the server will
// never send.
func TestHTTPDownloaderHeadFailureMeansNoRanges(t *testing.T) {
	t.Parallel()
	content := testContent(t, 32*1024)

	tests := []struct {
		name string
		head http.HandlerFunc
	}{
		{
			"no content length",
			func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Accept-Ranges", "bytes")
				w.WriteHeader(http.StatusOK)
			},
		},
		{
			"connection dropped",
			func(w http.ResponseWriter, r *http.Request) {
				conn, _, err := w.(http.Hijacker).Hijack()
				if err != nil {
					t.Errorf("hijack: %v", err)
					return
				}
				conn.Close()
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method == "HEAD" {
					tt.head(w, r)
					return
				}
				// The Range header is ignored on purpose.
				w.Write(content)
			}))
			t.Cleanup(server.Close)

			d := &HTTPDownloader{}
			job := &utils.GrabJob{
				JobType:      "http",
				URL:          server.URL + "/file.bin",
				OutputPath:   filepath.Join(t.TempDir(), "file.bin"),
				ExpectedSize: int64(len(content)),
				Connections:  4,
				Metadata:     make(map[string]any),
			}
			if err := d.BuildJob(job); err != nil {
				t.Fatal(err)
			}
			if supported, _ := job.Metadata["rangeSupported"].(bool); supported {
				t.Error("failed probe should not report range support")
			}
			if size, _ := job.Metadata["fileSize"].(int64); size != int64(len(content)) {
				t.Errorf("fileSize = %d, want advertised %d", size, len(content))
			}
			if err := d.Download(job); err != nil {
				t.Fatal(err)
			}
			got, err := os.ReadFile(job.OutputPath)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, content) {
				t.Error("fallback download differs")
			}
		})
	}
}

func TestHTTPDownloaderValidateJob(t *testing.T) {
	t.Parallel()
	d := &HTTPDownloader{}
	if err := d.ValidateJob(&utils.GrabJob{URL: "https://site.edu/file.pdf"}); err != nil {
		t.Errorf("https should validate: %v", err)
	}
	if err := d.ValidateJob(&utils.GrabJob{URL: "ftp://site.edu/file.pdf"}); err == nil {
		t.Error("ftp should not validate")
	}
}

func TestHTTPDownloaderBuildJobAlreadyDownloaded(t *testing.T) {
	t.Parallel()
	content := testContent(t, 4096)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		if r.Method == "HEAD" {
			return
		}
		w.Write(content)
	}))
	t.Cleanup(server.Close)

	outputPath := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(outputPath, content, 0644); err != nil {
		t.Fatal(err)
	}

	d := &HTTPDownloader{}
	job := &utils.GrabJob{
		JobType:    "http",
		URL:        server.URL + "/file.bin",
		OutputPath: outputPath,
		Metadata:   make(map[string]any),
	}
	if err := d.BuildJob(job); !errors.Is(err, ErrAlreadyDownloaded) {
		t.Fatalf("err = %v, want ErrAlreadyDownloaded", err)
	}
}

func TestHTTPDownloaderEndToEnd(t *testing.T) {
	t.Parallel()
	content := testContent(t, 32*1024)
	server := newFileServer(content)
	t.Cleanup(server.Close)

	outputPath := filepath.Join(t.TempDir(), "sub", "dir", "file.bin")
	d := &HTTPDownloader{}
	job := &utils.GrabJob{
		JobType:     "http",
		URL:         server.URL + "/file.bin",
		OutputPath:  outputPath,
		Connections: 1,
		Metadata:    make(map[string]any),
	}
	if err := d.ValidateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := d.BuildJob(job); err != nil {
		t.Fatal(err)
	}
	var lastDownloaded int64
	job.ProgressFunc = func(downloaded, total int64) {
		lastDownloaded = downloaded
	}
	if err := d.Download(job); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("downloaded content differs")
	}
	if lastDownloaded != int64(len(content)) {
		t.Errorf("final progress = %d, want %d", lastDownloaded, len(content))
	}
}

func TestEnsureExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	pngHeader := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	noExt := filepath.Join(dir, "image")
	if err := os.WriteFile(noExt, pngHeader, 0644); err != nil {
		t.Fatal(err)
	}
	renamed, err := EnsureExtension(noExt)
	if err != nil {
		t.Fatal(err)
	}
	if renamed != noExt+".png" {
		t.Errorf("renamed = %q, want %q", renamed, noExt+".png")
	}
	if _, err := os.Stat(renamed); err != nil {
		t.Errorf("renamed file missing: %v", err)
	}

	withExt := filepath.Join(dir, "doc.pdf")
	if err := os.WriteFile(withExt, []byte("%PDF-1.4"), 0644); err != nil {
		t.Fatal(err)
	}
	kept, err := EnsureExtension(withExt)
	if err != nil {
		t.Fatal(err)
	}
	if kept != withExt {
		t.Errorf("existing extension should be kept, got %q", kept)
	}

	unknown := filepath.Join(dir, "mystery")
	if err := os.WriteFile(unknown, []byte("plain text"), 0644); err != nil {
		t.Fatal(err)
	}
	kept, err = EnsureExtension(unknown)
	if err != nil {
		t.Fatal(err)
	}
	if kept != unknown {
		t.Errorf("unknown type should keep its name, got %q", kept)
	}
}
