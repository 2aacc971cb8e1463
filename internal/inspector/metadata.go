package inspector

import (
	"fmt"
	"os"
	"sync"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// ExiftoolReader reads PDF metadata through a long-lived exiftool process.
// The process starts on first use.
type ExiftoolReader struct {
	logger     *logrus.Logger
	binaryPath string

	startOnce sync.Once
	startErr  error
	et        *exiftool.Exiftool
	etMutex   sync.Mutex

	cache *sync.Map
	stats CacheStats
	mutex sync.RWMutex
}

// NewExiftoolReader returns a reader. An empty binaryPath uses exiftool from PATH.
func NewExiftoolReader(logger *logrus.Logger, binaryPath string) *ExiftoolReader {
	return &ExiftoolReader{
		logger:     logger,
		binaryPath: binaryPath,
		cache:      &sync.Map{},
	}
}

func (r *ExiftoolReader) start() error {
	r.startOnce.Do(func() {
		var opts []func(*exiftool.Exiftool) error
		if r.binaryPath != "" {
			opts = append(opts, exiftool.SetExiftoolBinaryPath(r.binaryPath))
		}
		r.et, r.startErr = exiftool.NewExiftool(opts...)
		if r.startErr != nil {
			r.logger.WithError(r.startErr).Debug("exiftool unavailable")
		}
	})
	return r.startErr
}

// ReadMetadata returns the metadata fields exiftool reports for filePath,
// stringified. Results are cached per path, size and modification time.
func (r *ExiftoolReader) ReadMetadata(filePath string) (map[string]string, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	key := fmt.Sprintf("%s:%d:%d", filePath, fileInfo.Size(), fileInfo.ModTime().UnixNano())
	if value, ok := r.cache.Load(key); ok {
		r.recordQuery(true)
		return value.(map[string]string), nil
	}
	r.recordQuery(false)

	if err := r.start(); err != nil {
		return nil, fmt.Errorf("exiftool not available: %w", err)
	}

	r.etMutex.Lock()
	if r.et == nil {
		r.etMutex.Unlock()
		return nil, fmt.Errorf("exiftool reader is closed")
	}
	infos := r.et.ExtractMetadata(filePath)
	r.etMutex.Unlock()

	if len(infos) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", filePath)
	}
	if infos[0].Err != nil {
		return nil, fmt.Errorf("exiftool failed: %w", infos[0].Err)
	}

	fields := make(map[string]string, len(infos[0].Fields))
	for k, v := range infos[0].Fields {
		fields[k] = fmt.Sprint(v)
	}

	r.cache.Store(key, fields)
	r.mutex.Lock()
	r.stats.Size++
	r.mutex.Unlock()
	return fields, nil
}

// Close stops the exiftool process if it was started.
func (r *ExiftoolReader) Close() error {
	r.etMutex.Lock()
	defer r.etMutex.Unlock()
	if r.et == nil {
		return nil
	}
	err := r.et.Close()
	r.et = nil
	return err
}

// GetCacheStats returns cache statistics for this reader.
func (r *ExiftoolReader) GetCacheStats() CacheStats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := r.stats
	if stats.TotalQueries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.TotalQueries)
	}
	return stats
}

func (r *ExiftoolReader) recordQuery(hit bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if hit {
		r.stats.Hits++
	} else {
		r.stats.Misses++
	}
	r.stats.TotalQueries++
}
