package scraper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/elearn-tools/moodlegrab/internal/config"
	"github.com/elearn-tools/moodlegrab/internal/moodle"
	"github.com/elearn-tools/moodlegrab/internal/state"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// contentFetchers caps the concurrent core_course_get_contents calls; the
// transfer pool has its own limit.
const contentFetchers = 4

// Scraper walks the enrolled courses and turns every downloadable resource
// and embedded lecture recording into a transfer job.
type Scraper struct {
	client     *moodle.Client
	cfg        config.Config
	store      *state.Store
	siteInfo   *moodle.SiteInfo
	categories map[int]moodle.Category
	httpConfig utils.HTTPClientConfig
}

func New(client *moodle.Client, cfg config.Config, store *state.Store, httpConfig utils.HTTPClientConfig) *Scraper {
	return &Scraper{
		client:     client,
		cfg:        cfg,
		store:      store,
		httpConfig: httpConfig,
	}
}

// SiteInfo fetches and caches the site metadata for the logged-in user.
func (s *Scraper) SiteInfo() (*moodle.SiteInfo, error) {
	if s.siteInfo != nil {
		return s.siteInfo, nil
	}
	info, err := s.client.SiteInfo()
	if err != nil {
		return nil, err
	}
	s.siteInfo = info
	return info, nil
}

// CourseList returns the enrolled courses with their on-disk paths, sorted
// for stable listing output.
func (s *Scraper) CourseList() ([]CourseEntry, error) {
	info, err := s.SiteInfo()
	if err != nil {
		return nil, err
	}
	if err := s.loadCategories(); err != nil {
		return nil, err
	}
	courses, err := s.client.UserCourses(info.UserID)
	if err != nil {
		return nil, err
	}
	entries := make([]CourseEntry, 0, len(courses))
	for _, course := range courses {
		entries = append(entries, CourseEntry{
			Course: course,
			Path:   s.coursePath(course),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return strings.Join(entries[i].Path, "/") < strings.Join(entries[j].Path, "/")
	})
	return entries, nil
}

type CourseEntry struct {
	Course moodle.Course
	Path   []string
}

// BuildJobs crawls every enrolled course and returns the transfer jobs for
// everything not yet on disk. Course content fetches run concurrently.
func (s *Scraper) BuildJobs() ([]utils.GrabJob, error) {
	logger := log.With().Str("op", "scraper").Logger()
	entries, err := s.CourseList()
	if err != nil {
		return nil, err
	}
	logger.Info().Msgf("Checking %d enrolled courses", len(entries))
	info, err := s.SiteInfo()
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var jobs []utils.GrabJob
	var g errgroup.Group
	g.SetLimit(contentFetchers)
	for _, entry := range entries {
		g.Go(func() error {
			sections, err := s.client.CourseContents(entry.Course.ID)
			if err != nil {
				return fmt.Errorf("course %q: %w", entry.Course.FullName, err)
			}
			courseJobs := s.walkSections(entry.Path, sections, info.UserPrivateAccessKey)
			mu.Lock()
			jobs = append(jobs, courseJobs...)
			mu.Unlock()
			logger.Debug().Msgf("Course %s: %d transfers queued", strings.Join(entry.Path, " / "), len(courseJobs))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// coursePath is the directory chain for a course: the names of every
// category on its path, then the course name, all language-filtered.
func (s *Scraper) coursePath(course moodle.Course) []string {
	var path []string
	if cat, ok := s.categories[course.Category]; ok {
		for _, id := range cat.PathIDs() {
			if ancestor, ok := s.categories[id]; ok {
				path = append(path, ancestor.Name)
			}
		}
	}
	return append(path, moodle.LangOrFirst(course.FullName, s.cfg.Language))
}

func (s *Scraper) loadCategories() error {
	if s.categories != nil {
		return nil
	}
	categories, err := s.client.Categories()
	if err != nil {
		return err
	}
	s.categories = categories
	return nil
}

func (s *Scraper) walkSections(coursePath []string, sections []moodle.Section, accessKey string) []utils.GrabJob {
	var jobs []utils.GrabJob
	for _, section := range sections {
		sectionPath := coursePath
		if section.ID != -1 && section.Name != "" {
			sectionPath = append(append([]string{}, coursePath...), moodle.LangOrFirst(section.Name, s.cfg.Language))
		}
		for _, module := range section.Modules {
			jobs = append(jobs, s.moduleJobs(sectionPath, module, accessKey)...)
		}
	}
	return jobs
}

func (s *Scraper) moduleJobs(path []string, module moodle.Module, accessKey string) []utils.GrabJob {
	logger := log.With().Str("op", "scraper").Logger()
	if s.cfg.IsIgnoredModule(module.ModName) {
		return nil
	}
	switch module.ModName {
	case "resource":
		return s.resourceJobs(path, module, accessKey)
	case "kalvidres":
		if job := s.lectureJob(path, module); job != nil {
			return []utils.GrabJob{*job}
		}
		return nil
	default:
		logger.Warn().Msgf("%s: Unknown module %q (%s)", strings.Join(path, " / "), module.ModName, module.ModPlural)
		return nil
	}
}

func (s *Scraper) resourceJobs(path []string, module moodle.Module, accessKey string) []utils.GrabJob {
	logger := log.With().Str("op", "scraper").Logger()
	if len(module.Contents) == 0 {
		logger.Debug().Msgf("%s: Skipping empty module %q", strings.Join(path, " / "), module.Name)
		return nil
	}
	if len(module.Contents) > 1 {
		path = append(append([]string{}, path...), moodle.LangOrFirst(module.Name, s.cfg.Language))
	}

	var jobs []utils.GrabJob
	for _, content := range module.Contents {
		if content.Type != "file" {
			logger.Info().Msgf("%s: Skipping non-file resource %q (type: %s)", strings.Join(path, " / "), content.FileName, content.Type)
			continue
		}
		outputPath := s.outputPath(append(append([]string{}, path...), content.FileName))
		if s.alreadyDownloaded(outputPath, content.FileSize) {
			logger.Debug().Msgf("Skipping already downloaded %s", outputPath)
			continue
		}
		jobs = append(jobs, utils.GrabJob{
			JobType:          "http",
			URL:              moodle.FixPluginURL(content.FileURL, accessKey),
			OutputPath:       outputPath,
			ExpectedSize:     content.FileSize,
			HTTPClientConfig: s.httpConfig,
			Metadata:         make(map[string]any),
		})
	}
	return jobs
}

func (s *Scraper) lectureJob(path []string, module moodle.Module) *utils.GrabJob {
	name := moodle.LangOrFirst(module.Name, s.cfg.Language) + ".mp4"
	outputPath := s.outputPath(append(append([]string{}, path...), name))
	if s.alreadyDownloaded(outputPath, 0) {
		return nil
	}
	return &utils.GrabJob{
		JobType:          "lecture",
		URL:              module.URL,
		OutputPath:       outputPath,
		HTTPClientConfig: s.httpConfig,
		Metadata:         make(map[string]any),
	}
}

func (s *Scraper) outputPath(elems []string) string {
	escaped := utils.EscapePath(elems)
	return filepath.Join(append([]string{s.cfg.DestDir}, escaped...)...)
}

// alreadyDownloaded consults the state store first, then the filesystem;
// a size of 0 means any existing file counts.
func (s *Scraper) alreadyDownloaded(path string, size int64) bool {
	if s.store != nil {
		if done, err := s.store.IsCompleted(path, size); err == nil && done {
			return true
		}
	}
	if info, err := os.Stat(path); err == nil {
		if size <= 0 || info.Size() == size {
			return true
		}
	}
	return false
}
