package kaltura

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

func TestEntryIDFromIframeSrc(t *testing.T) {
	t.Parallel()
	embed := "https://media.example.edu/browseandembed/index/media/entryid/1_abc123/showDescription/false"
	tests := []struct {
		name    string
		src     string
		want    string
		wantErr bool
	}{
		{
			"entry id in source parameter",
			"https://site.edu/filter/kaltura/lti_launch.php?courseid=7&source=" + url.QueryEscape(embed),
			"1_abc123",
			false,
		},
		{"no source parameter", "https://site.edu/filter/kaltura/lti_launch.php?courseid=7", "", true},
		{"source without entry id", "https://site.edu/lti_launch.php?source=" + url.QueryEscape("https://media.example.edu/playlist/9"), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := EntryIDFromIframeSrc(tt.src)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("EntryIDFromIframeSrc = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMediaURL(t *testing.T) {
	t.Parallel()
	r := NewResolver(nil, "https://cdnapisec.kaltura.com", "1533641")
	got := r.MediaURL("1_abc123", "test-ks")
	want := "https://cdnapisec.kaltura.com/p/1533641/sp/153364100/playManifest/entryId/1_abc123/format/url/protocol/https/flavorParamIds/0/ks/test-ks/video.mp4"
	if got != want {
		t.Errorf("MediaURL = %q, want %q", got, want)
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/mod/kalvidres/view.php", func(w http.ResponseWriter, r *http.Request) {
		embed := "https://media.example.edu/index/media/entryid/1_xyz789/showDescription/false"
		src := server.URL + "/lti_launch.php?source=" + url.QueryEscape(embed)
		fmt.Fprintf(w, `<html><body><iframe src="%s"></iframe></body></html>`, src)
	})
	mux.HandleFunc("/api_v3/service/session/action/startWidgetSession", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("widget session method = %s", r.Method)
		}
		if r.URL.Query().Get("widgetId") != "_153" {
			t.Errorf("widgetId = %q", r.URL.Query().Get("widgetId"))
		}
		fmt.Fprint(w, `{"ks":"session-ks","objectType":"KalturaSessionInfo"}`)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	httpClient := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	r := NewResolver(httpClient, server.URL, "153")
	mediaURL, entryID, err := r.Resolve(server.URL + "/mod/kalvidres/view.php?id=100")
	if err != nil {
		t.Fatal(err)
	}
	if entryID != "1_xyz789" {
		t.Errorf("entryID = %q", entryID)
	}
	if !strings.Contains(mediaURL, "/entryId/1_xyz789/") || !strings.Contains(mediaURL, "/ks/session-ks/") {
		t.Errorf("mediaURL = %q", mediaURL)
	}
}

func TestResolveWidgetSessionRefused(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("/mod/kalvidres/view.php", func(w http.ResponseWriter, r *http.Request) {
		embed := "https://media.example.edu/index/media/entryid/1_xyz789/x"
		src := server.URL + "/lti_launch.php?source=" + url.QueryEscape(embed)
		fmt.Fprintf(w, `<html><body><iframe src="%s"></iframe></body></html>`, src)
	})
	mux.HandleFunc("/api_v3/service/session/action/startWidgetSession", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"objectType":"KalturaAPIException","message":"Invalid widget id","code":"INVALID_WIDGET_ID"}`)
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	httpClient := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	r := NewResolver(httpClient, server.URL, "153")
	if _, _, err := r.Resolve(server.URL + "/mod/kalvidres/view.php?id=100"); err == nil {
		t.Fatal("expected error for refused widget session")
	}
}

func TestResolveNoIframe(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>Access denied</p></body></html>`)
	}))
	t.Cleanup(server.Close)

	httpClient := utils.NewGrabHTTPClient(utils.HTTPClientConfig{})
	r := NewResolver(httpClient, server.URL, "153")
	if _, _, err := r.Resolve(server.URL + "/page"); err == nil {
		t.Fatal("expected error when page has no player iframe")
	}
}
