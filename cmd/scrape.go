package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	grabhttp "github.com/elearn-tools/moodlegrab/internal/downloaders/http"
	"github.com/elearn-tools/moodlegrab/internal/downloaders/lecture"
	"github.com/elearn-tools/moodlegrab/internal/kaltura"
	"github.com/elearn-tools/moodlegrab/internal/output"
	"github.com/elearn-tools/moodlegrab/internal/scheduler"
	"github.com/elearn-tools/moodlegrab/internal/scraper"
	"github.com/elearn-tools/moodlegrab/internal/state"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Download all enrolled course materials and lecture recordings",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			if err := runScrape(); err != nil {
				fmt.Println()
				output.PrintError(fmt.Sprintf("Scrape failed: %v", err))
				os.Exit(1)
			}
		},
	}
}

func runScrape() error {
	session, client, err := login()
	if err != nil {
		return err
	}
	store, err := state.Open(cfg.DestDir)
	if err != nil {
		return err
	}
	defer store.Close()

	scr := scraper.New(client, cfg, store, globalHTTPConfig)
	info, err := scr.SiteInfo()
	if err != nil {
		return err
	}
	output.PrintSuccess(fmt.Sprintf("Logged in to %s as %s", info.SiteName, info.FullName))

	jobs, err := scr.BuildJobs()
	if err != nil {
		return err
	}
	for i := range jobs {
		jobs[i].Connections = cfg.Connections
	}

	registry := scheduler.Registry{
		"http": &grabhttp.HTTPDownloader{},
		"lecture": &lecture.LectureDownloader{
			Resolver: kaltura.NewResolver(session.Client, cfg.KalturaServiceURL, cfg.KalturaPartnerID),
			Store:    store,
		},
	}
	runErr := scheduler.Run(jobs, cfg.Transfers, registry, func(job utils.GrabJob) {
		size, _ := job.Metadata["fileSize"].(int64)
		if err := store.MarkCompleted(job.OutputPath, job.URL, size); err != nil {
			output.PrintWarning(fmt.Sprintf("Could not record %s: %v", job.OutputPath, err))
		}
	})

	manifestPath := cfg.VideosManifest
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(cfg.DestDir, manifestPath)
	}
	if err := store.ExportVideosManifest(manifestPath); err != nil {
		output.PrintWarning(fmt.Sprintf("Could not write video manifest: %v", err))
	}
	return runErr
}
