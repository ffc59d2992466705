package grabhttp

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// PerformMultiDownload splits a ranged download across Connections chunks
// and assembles the parts afterwards.
func PerformMultiDownload(config utils.DownloadConfig, client *utils.GrabHTTPClient, fileSize int64, progressCh chan<- int64) error {
	job := utils.DownloadJob{
		Config:    config,
		FileSize:  fileSize,
		StartTime: time.Now(),
	}
	tempDir := filepath.Join(filepath.Dir(config.OutputPath), utils.TempDirName)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return fmt.Errorf("error creating temp directory: %v", err)
	}

	chunkSize := fileSize / int64(config.Connections)
	var currentPosition int64 = 0
	for i := range config.Connections {
		startByte := currentPosition
		endByte := startByte + chunkSize - 1
		if i == config.Connections-1 {
			endByte = fileSize - 1
		}
		if endByte >= fileSize {
			endByte = fileSize - 1
		}
		if endByte >= startByte {
			job.Chunks = append(job.Chunks, utils.DownloadChunk{
				ID:        i,
				StartByte: startByte,
				EndByte:   endByte,
			})
		}
		currentPosition = endByte + 1
	}

	var wg sync.WaitGroup
	mutex := &sync.Mutex{}
	for i := range job.Chunks {
		wg.Add(1)
		go chunkedDownload(&job, &job.Chunks[i], client, &wg, progressCh, mutex)
	}
	wg.Wait()

	var incomplete []int
	for i, chunk := range job.Chunks {
		if !chunk.Completed {
			incomplete = append(incomplete, i)
		}
	}
	if len(incomplete) > 0 {
		return fmt.Errorf("download incomplete: %d chunks failed: %v", len(incomplete), incomplete)
	}
	return assembleFile(job)
}

func assembleFile(job utils.DownloadJob) error {
	sort.Slice(job.TempFiles, func(i, j int) bool {
		idI, _ := extractChunkID(job.TempFiles[i])
		idJ, _ := extractChunkID(job.TempFiles[j])
		return idI < idJ
	})

	destFile, err := os.Create(job.Config.OutputPath)
	if err != nil {
		return err
	}
	defer destFile.Close()

	var totalWritten int64
	for _, tempFilePath := range job.TempFiles {
		tempFile, err := os.Open(tempFilePath)
		if err != nil {
			return fmt.Errorf("error opening chunk: %v", err)
		}
		written, err := io.Copy(destFile, tempFile)
		tempFile.Close()
		if err != nil {
			return fmt.Errorf("error copying chunk: %v", err)
		}
		totalWritten += written
	}
	if totalWritten != job.FileSize {
		return fmt.Errorf("size mismatch: expected %d, got %d", job.FileSize, totalWritten)
	}
	for _, tempFilePath := range job.TempFiles {
		os.Remove(tempFilePath)
	}
	return nil
}

func extractChunkID(filename string) (int, error) {
	matches := utils.ChunkIDRegex.FindStringSubmatch(filename)
	if len(matches) < 2 {
		return -1, errors.New("could not extract chunk ID")
	}
	return strconv.Atoi(matches[1])
}
