package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	grabhttp "github.com/elearn-tools/moodlegrab/internal/downloaders/http"
	"github.com/elearn-tools/moodlegrab/internal/output"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// Registry maps a job type to the downloader that handles it.
type Registry map[string]utils.Downloader

// Run drains the job list through a fixed pool of workers, rendering
// progress through the output manager. onComplete fires after every
// successful transfer, with the job's final output path and size filled in.
func Run(jobs []utils.GrabJob, workers int, registry Registry, onComplete func(job utils.GrabJob)) error {
	if len(jobs) == 0 {
		output.PrintInfo("Nothing to download")
		return nil
	}
	if workers <= 0 {
		workers = 1
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	log.Debug().Str("op", "scheduler").Msgf("Starting %d workers for %d transfers", workers, len(jobs))

	// The display manager owns the terminal while transfers run; logs are
	// buffered and replayed afterwards so they don't tear the output region.
	var logBuf bytes.Buffer
	utils.SetLogOutput(&logBuf)
	mgr := output.NewManager()
	mgr.StartDisplay()
	defer func() {
		mgr.StopDisplay()
		utils.SetLogOutput(os.Stderr)
		if logBuf.Len() > 0 {
			fmt.Fprint(os.Stderr, logBuf.String())
		}
	}()

	jobCh := make(chan utils.GrabJob, len(jobs))
	for _, job := range jobs {
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		jobCh <- job
	}
	close(jobCh)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				runJob(job, registry, mgr, onComplete)
			}
		}()
	}
	wg.Wait()

	if count := mgr.ErrorCount(); count > 0 {
		return fmt.Errorf("%d transfers failed", count)
	}
	return nil
}

func runJob(job utils.GrabJob, registry Registry, mgr *output.Manager, onComplete func(job utils.GrabJob)) {
	name := filepath.Base(job.OutputPath)
	if name == "" || name == "." {
		name = job.URL
	}
	id := mgr.Register(name)

	downloader, ok := registry[job.JobType]
	if !ok {
		mgr.ReportError(id, fmt.Errorf("no downloader for job type %q", job.JobType))
		return
	}
	if err := downloader.ValidateJob(&job); err != nil {
		mgr.ReportError(id, fmt.Errorf("invalid job: %w", err))
		return
	}

	mgr.SetMessage(id, fmt.Sprintf("Preparing %s", name))
	if err := downloader.BuildJob(&job); err != nil {
		if errors.Is(err, grabhttp.ErrAlreadyDownloaded) {
			mgr.Skip(id, fmt.Sprintf("Already downloaded %s", name))
			return
		}
		mgr.ReportError(id, fmt.Errorf("error preparing job: %w", err))
		return
	}

	job.ProgressFunc = func(downloaded, total int64) {
		mgr.SetProgress(id, downloaded, total)
	}
	mgr.SetStatus(id, "info")
	mgr.SetMessage(id, fmt.Sprintf("Downloading %s", name))
	if fileSize, _ := job.Metadata["fileSize"].(int64); fileSize > 0 {
		mgr.AddStreamLine(id, fmt.Sprintf("Size: %s", output.FormatBytes(uint64(fileSize))))
	}
	if err := downloader.Download(&job); err != nil {
		mgr.ReportError(id, err)
		return
	}
	if onComplete != nil {
		onComplete(job)
	}
	mgr.Complete(id, fmt.Sprintf("Downloaded %s", name))
}
