package learned

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/gauntlet-cli/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FileName is the learned map file inside a run or shared directory.
const FileName = "learned.json"

// document is the on-disk layout.
type document struct {
	MethodPerStep map[string]string `json:"method_per_step"`
	LastUpdated   string            `json:"last_updated"`
	StepsCount    int               `json:"steps_count"`
}

// FileStore keeps the learned map as JSON. When a shared directory is set
// the shared file is the base and the run directory file overlays it; saves
// go to both so separate runs learn from each other.
type FileStore struct {
	dir       string
	sharedDir string
	now       func() time.Time
	logger    *zap.Logger
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir, sharedDir string, logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:       dir,
		sharedDir: sharedDir,
		now:       time.Now,
		logger:    logger.Named("learned"),
	}
}

func (s *FileStore) paths() []string {
	var out []string
	for _, d := range []string{s.sharedDir, s.dir} {
		if d != "" {
			out = append(out, filepath.Join(d, FileName))
		}
	}
	return out
}

// Load merges the shared file and the run file. Missing or unreadable files
// are skipped: the map only reorders sources, so losing it costs speed, not
// correctness.
func (s *FileStore) Load(_ context.Context) (map[int]engine.Source, error) {
	merged := make(map[int]engine.Source)
	for _, path := range s.paths() {
		methods, err := readFile(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("Ignoring unreadable learned file.", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		for stage, src := range methods {
			merged[stage] = src
		}
	}
	return merged, nil
}

// Save writes methods to the run directory and merges them into the shared
// file.
func (s *FileStore) Save(_ context.Context, methods map[int]engine.Source) error {
	if len(methods) == 0 {
		return nil
	}
	now := s.now().UTC()

	if s.dir != "" {
		path := filepath.Join(s.dir, FileName)
		current, err := readFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Overwriting unreadable learned file.", zap.String("path", path), zap.Error(err))
		}
		if err := writeFile(path, merge(current, methods), now); err != nil {
			return err
		}
	}

	if s.sharedDir != "" {
		path := filepath.Join(s.sharedDir, FileName)
		shared, err := readFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("Overwriting unreadable shared learned file.", zap.String("path", path), zap.Error(err))
		}
		if err := writeFile(path, merge(shared, methods), now); err != nil {
			return err
		}
	}

	s.logger.Debug("Learned map saved.", zap.Int("stages", len(methods)))
	return nil
}

// Reset removes the learned files.
func (s *FileStore) Reset(_ context.Context) error {
	for _, path := range s.paths() {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

func merge(base, overlay map[int]engine.Source) map[int]engine.Source {
	out := make(map[int]engine.Source, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v != engine.SourceUnknown {
			out[k] = v
		}
	}
	return out
}

// readFile parses a learned document. Entries with a bad stage number or an
// unknown source are dropped.
func readFile(path string) (map[int]engine.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	out := make(map[int]engine.Source, len(doc.MethodPerStep))
	for k, v := range doc.MethodPerStep {
		stage, err := strconv.Atoi(k)
		if err != nil || stage <= 0 {
			continue
		}
		src, err := engine.ParseSource(v)
		if err != nil {
			continue
		}
		out[stage] = src
	}
	return out, nil
}

// writeFile replaces path atomically through a temp file in the same
// directory.
func writeFile(path string, methods map[int]engine.Source, now time.Time) error {
	doc := document{
		MethodPerStep: make(map[string]string, len(methods)),
		LastUpdated:   now.Format(time.RFC3339),
		StepsCount:    len(methods),
	}
	for stage, src := range methods {
		doc.MethodPerStep[strconv.Itoa(stage)] = src.String()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode learned map: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".learned-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
