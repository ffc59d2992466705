package kaltura

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

var entryIDRegex = regexp.MustCompile(`entryid/([^/]+)/`)

// widgetSessionResponse is the api_v3 startWidgetSession reply. Kaltura
// reports failures as HTTP 200 with a KalturaAPIException object.
type widgetSessionResponse struct {
	KS         string `json:"ks"`
	ObjectType string `json:"objectType"`
	Message    string `json:"message"`
	Code       string `json:"code"`
}

// Resolver turns an embedded lecture-recording page into a direct media URL
// through a fixed sequence: page -> iframe -> entry id -> widget session ->
// playManifest URL.
type Resolver struct {
	http       utils.HTTPDoer
	serviceURL string
	partnerID  string
}

func NewResolver(httpClient utils.HTTPDoer, serviceURL, partnerID string) *Resolver {
	return &Resolver{
		http:       httpClient,
		serviceURL: strings.TrimRight(serviceURL, "/"),
		partnerID:  partnerID,
	}
}

// Resolve fetches the module page with the authenticated session and walks
// the embed indirection down to the downloadable media URL. The entry id is
// returned too, for bookkeeping.
func (r *Resolver) Resolve(pageURL string) (mediaURL, entryID string, err error) {
	log.Debug().Str("op", "kaltura/resolver").Msgf("Resolving lecture page %s", pageURL)
	entryID, err = r.entryIDFromPage(pageURL)
	if err != nil {
		return "", "", err
	}
	log.Debug().Str("op", "kaltura/resolver").Msgf("Found entry ID %s", entryID)
	ks, err := r.startWidgetSession()
	if err != nil {
		return "", "", err
	}
	return r.MediaURL(entryID, ks), entryID, nil
}

func (r *Resolver) entryIDFromPage(pageURL string) (string, error) {
	req, err := http.NewRequest("GET", pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating page request: %v", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching lecture page: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lecture page returned status %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error parsing lecture page: %v", err)
	}
	src, ok := doc.Find("iframe").First().Attr("src")
	if !ok {
		return "", fmt.Errorf("no player iframe on lecture page")
	}
	return EntryIDFromIframeSrc(src)
}

// EntryIDFromIframeSrc pulls the Kaltura entry id out of the player iframe
// URL: its "source" query parameter embeds the id in an entryid/<id>/ path
// segment.
func EntryIDFromIframeSrc(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("error parsing iframe src: %v", err)
	}
	source := u.Query().Get("source")
	if source == "" {
		return "", fmt.Errorf("iframe src has no source parameter")
	}
	matches := entryIDRegex.FindStringSubmatch(source)
	if len(matches) < 2 {
		return "", fmt.Errorf("could not find entry id in %s", source)
	}
	return matches[1], nil
}

// startWidgetSession obtains an anonymous KS for the partner's default
// widget, enough to request the playManifest of published entries.
func (r *Resolver) startWidgetSession() (string, error) {
	sessionURL := fmt.Sprintf("%s/api_v3/service/session/action/startWidgetSession?widgetId=_%s&format=1", r.serviceURL, r.partnerID)
	req, err := http.NewRequest("POST", sessionURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating widget session request: %v", err)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("error starting widget session: %v", err)
	}
	defer resp.Body.Close()
	var data widgetSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("error decoding widget session reply: %v", err)
	}
	if data.ObjectType == "KalturaAPIException" {
		return "", fmt.Errorf("widget session refused: %s (%s)", data.Message, data.Code)
	}
	if data.KS == "" {
		return "", fmt.Errorf("widget session reply has no ks")
	}
	return data.KS, nil
}

// MediaURL builds the playManifest download URL for an entry.
func (r *Resolver) MediaURL(entryID, ks string) string {
	return fmt.Sprintf("%s/p/%s/sp/%s00/playManifest/entryId/%s/format/url/protocol/https/flavorParamIds/0/ks/%s/video.mp4",
		r.serviceURL, r.partnerID, r.partnerID, entryID, ks)
}
