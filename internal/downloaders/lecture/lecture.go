package lecture

import (
	"fmt"
	"net/url"

	"github.com/rs/zerolog/log"

	grabhttp "github.com/elearn-tools/moodlegrab/internal/downloaders/http"
	"github.com/elearn-tools/moodlegrab/internal/kaltura"
	"github.com/elearn-tools/moodlegrab/internal/state"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// LectureDownloader resolves an embedded lecture-recording page to its
// direct media URL and then hands the transfer to the plain HTTP downloader.
// Resolutions are cached in the state store so reruns skip the player dance.
type LectureDownloader struct {
	Resolver *kaltura.Resolver
	Store    *state.Store
	http     grabhttp.HTTPDownloader
}

func (d *LectureDownloader) ValidateJob(job *utils.GrabJob) error {
	if d.Resolver == nil {
		return fmt.Errorf("no media resolver configured")
	}
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid page URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	if job.OutputPath == "" {
		return fmt.Errorf("lecture jobs need an output path")
	}
	return nil
}

func (d *LectureDownloader) BuildJob(job *utils.GrabJob) error {
	mediaURL, err := d.cachedMediaURL(job.OutputPath)
	if err != nil {
		return err
	}
	if mediaURL == "" {
		var entryID string
		mediaURL, entryID, err = d.Resolver.Resolve(job.URL)
		if err != nil {
			return fmt.Errorf("error resolving lecture: %w", err)
		}
		if d.Store != nil {
			if saveErr := d.Store.SaveVideo(job.OutputPath, entryID, mediaURL); saveErr != nil {
				log.Warn().Str("op", "lecture").Err(saveErr).Msg("Could not record resolved video")
			}
		}
	}
	job.Metadata["pageURL"] = job.URL
	job.URL = mediaURL
	return d.http.BuildJob(job)
}

func (d *LectureDownloader) Download(job *utils.GrabJob) error {
	return d.http.Download(job)
}

func (d *LectureDownloader) cachedMediaURL(outputPath string) (string, error) {
	if d.Store == nil {
		return "", nil
	}
	mediaURL, err := d.Store.VideoURL(outputPath)
	if err != nil {
		return "", fmt.Errorf("error reading video cache: %v", err)
	}
	if mediaURL != "" {
		log.Debug().Str("op", "lecture").Msgf("Reusing cached media URL for %s", outputPath)
	}
	return mediaURL, nil
}
