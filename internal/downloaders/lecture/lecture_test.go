package lecture

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elearn-tools/moodlegrab/internal/kaltura"
	"github.com/elearn-tools/moodlegrab/internal/state"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// newLectureServer plays both roles: the Moodle side serving the module page
// and the media platform serving the widget session and the video bytes.
func newLectureServer(t *testing.T, media []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	var resolutions atomic.Int32

	mux.HandleFunc("/mod/kalvidres/view.php", func(w http.ResponseWriter, r *http.Request) {
		resolutions.Add(1)
		embed := "https://media.example.edu/index/media/entryid/1_lec42/x"
		src := server.URL + "/lti_launch.php?source=" + url.QueryEscape(embed)
		fmt.Fprintf(w, `<html><body><iframe src="%s"></iframe></body></html>`, src)
	})
	mux.HandleFunc("/api_v3/service/session/action/startWidgetSession", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ks":"the-ks"}`)
	})
	mux.HandleFunc("/p/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "video.mp4", time.Now(), bytes.NewReader(media))
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &resolutions
}

func TestLectureDownloaderEndToEnd(t *testing.T) {
	t.Parallel()
	media := bytes.Repeat([]byte("frame"), 2048)
	server, resolutions := newLectureServer(t, media)

	dir := t.TempDir()
	store, err := state.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	httpClient := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	d := &LectureDownloader{
		Resolver: kaltura.NewResolver(httpClient, server.URL, "153"),
		Store:    store,
	}
	job := &utils.GrabJob{
		JobType:     "lecture",
		URL:         server.URL + "/mod/kalvidres/view.php?id=102",
		OutputPath:  filepath.Join(dir, "Lezione 1.mp4"),
		Connections: 1,
		Metadata:    make(map[string]any),
	}
	if err := d.ValidateJob(job); err != nil {
		t.Fatal(err)
	}
	if err := d.BuildJob(job); err != nil {
		t.Fatal(err)
	}
	if err := d.Download(job); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, media) {
		t.Error("downloaded media differs")
	}
	if resolutions.Load() != 1 {
		t.Errorf("resolutions = %d, want 1", resolutions.Load())
	}

	// The resolution is recorded for the manifest and for reruns.
	mediaURL, err := store.VideoURL(job.OutputPath)
	if err != nil {
		t.Fatal(err)
	}
	if mediaURL == "" {
		t.Error("resolved media URL should be recorded")
	}
}

func TestLectureDownloaderReusesCachedResolution(t *testing.T) {
	t.Parallel()
	media := bytes.Repeat([]byte("frame"), 512)
	server, resolutions := newLectureServer(t, media)

	dir := t.TempDir()
	store, err := state.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	outputPath := filepath.Join(dir, "Lezione 2.mp4")
	cachedURL := server.URL + "/p/153/sp/15300/playManifest/entryId/1_lec42/format/url/protocol/https/flavorParamIds/0/ks/old-ks/video.mp4"
	if err := store.SaveVideo(outputPath, "1_lec42", cachedURL); err != nil {
		t.Fatal(err)
	}

	httpClient := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	d := &LectureDownloader{
		Resolver: kaltura.NewResolver(httpClient, server.URL, "153"),
		Store:    store,
	}
	job := &utils.GrabJob{
		JobType:     "lecture",
		URL:         server.URL + "/mod/kalvidres/view.php?id=103",
		OutputPath:  outputPath,
		Connections: 1,
		Metadata:    make(map[string]any),
	}
	if err := d.BuildJob(job); err != nil {
		t.Fatal(err)
	}
	if resolutions.Load() != 0 {
		t.Errorf("cached resolution should skip the player page, got %d fetches", resolutions.Load())
	}
	if job.URL != cachedURL {
		t.Errorf("job URL = %q, want cached %q", job.URL, cachedURL)
	}
}

func TestLectureDownloaderValidateJob(t *testing.T) {
	t.Parallel()
	d := &LectureDownloader{Resolver: kaltura.NewResolver(nil, "https://cdn", "1")}
	if err := d.ValidateJob(&utils.GrabJob{URL: "https://site.edu/mod/kalvidres/view.php?id=1", OutputPath: "out.mp4"}); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}
	if err := d.ValidateJob(&utils.GrabJob{URL: "https://site.edu/x", OutputPath: ""}); err == nil {
		t.Error("missing output path should be rejected")
	}
	bare := &LectureDownloader{}
	if err := bare.ValidateJob(&utils.GrabJob{URL: "https://site.edu/x", OutputPath: "o"}); err == nil {
		t.Error("missing resolver should be rejected")
	}
}
