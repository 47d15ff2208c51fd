package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/twoway-anova/pkg/cache"
)

// Artifact types
const (
	ArtifactChart  = "chart"
	ArtifactReport = "report"
)

const indexFile = "index.json"

// ErrArtifactNotFound is returned when an artifact ID is not in the index.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore defines the interface for artifact storage
type ArtifactStore interface {
	Store(ctx context.Context, runID, name, artifactType string, data []byte) (*Artifact, error)
	Retrieve(ctx context.Context, id string) (*Artifact, []byte, error)
	List(ctx context.Context, filters ArtifactFilters) ([]*Artifact, error)
	Delete(ctx context.Context, id string) error
}

// Artifact describes one file written by a run
type Artifact struct {
	ID        string    `json:"id"`        // File name relative to the store root
	RunID     string    `json:"runId"`     // Run that produced the file
	Type      string    `json:"type"`      // chart|report
	Path      string    `json:"path"`      // Absolute or store-relative path on disk
	Size      int64     `json:"size"`      // Size in bytes
	Checksum  string    `json:"checksum"`  // xxhash of the contents
	CreatedAt time.Time `json:"createdAt"` // Write time
}

// ArtifactFilters represents filters for artifact listing
type ArtifactFilters struct {
	Type  string `json:"type"`  // Artifact type filter
	RunID string `json:"runId"` // Run ID filter
}

// FileSystemArtifactStore implements ArtifactStore using filesystem
type FileSystemArtifactStore struct {
	basePath string
	logger   *zap.Logger
	config   *FileSystemStoreConfig
	mu       sync.Mutex
}

// FileSystemStoreConfig represents filesystem store configuration
type FileSystemStoreConfig struct {
	FilePermissions os.FileMode `json:"filePermissions"` // File permissions
	DirPermissions  os.FileMode `json:"dirPermissions"`  // Directory permissions
	SyncWrites      bool        `json:"syncWrites"`      // Sync writes to disk
}

// NewFileSystemArtifactStore creates a new filesystem artifact store
func NewFileSystemArtifactStore(logger *zap.Logger, basePath string) *FileSystemArtifactStore {
	return &FileSystemArtifactStore{
		basePath: basePath,
		logger:   logger,
		config: &FileSystemStoreConfig{
			FilePermissions: 0644,
			DirPermissions:  0755,
			SyncWrites:      true,
		},
	}
}

// BasePath returns the store root.
func (fs *FileSystemArtifactStore) BasePath() string {
	return fs.basePath
}

// Store writes data under name and records it in the index. Writing a name
// again replaces the file and its index entry.
func (fs *FileSystemArtifactStore) Store(ctx context.Context, runID, name, artifactType string, data []byte) (*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || name == indexFile || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid artifact name %q", name)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.basePath, fs.config.DirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	path := filepath.Join(fs.basePath, name)
	if err := fs.writeFile(path, data); err != nil {
		return nil, fmt.Errorf("failed to write artifact %s: %w", name, err)
	}

	artifact := &Artifact{
		ID:        name,
		RunID:     runID,
		Type:      artifactType,
		Path:      path,
		Size:      int64(len(data)),
		Checksum:  cache.Fingerprint(data),
		CreatedAt: time.Now().UTC(),
	}

	index, err := fs.readIndex()
	if err != nil {
		return nil, err
	}
	index[name] = artifact
	if err := fs.writeIndex(index); err != nil {
		return nil, err
	}

	fs.logger.Debug("Artifact stored",
		zap.String("id", artifact.ID),
		zap.String("runId", runID),
		zap.String("type", artifactType),
		zap.Int64("size", artifact.Size))
	return artifact, nil
}

// Retrieve returns an artifact and its contents.
func (fs *FileSystemArtifactStore) Retrieve(ctx context.Context, id string) (*Artifact, []byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index, err := fs.readIndex()
	if err != nil {
		return nil, nil, err
	}
	artifact, ok := index[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read artifact %s: %w", id, err)
	}
	if sum := cache.Fingerprint(data); sum != artifact.Checksum {
		return nil, nil, fmt.Errorf("artifact %s checksum mismatch: index has %s, file has %s", id, artifact.Checksum, sum)
	}
	return artifact, data, nil
}

// List returns the indexed artifacts matching filters, oldest first.
func (fs *FileSystemArtifactStore) List(ctx context.Context, filters ArtifactFilters) ([]*Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index, err := fs.readIndex()
	if err != nil {
		return nil, err
	}
	var out []*Artifact
	for _, a := range index {
		if filters.Type != "" && a.Type != filters.Type {
			continue
		}
		if filters.RunID != "" && a.RunID != filters.RunID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes an artifact file and its index entry.
func (fs *FileSystemArtifactStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	index, err := fs.readIndex()
	if err != nil {
		return err
	}
	artifact, ok := index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrArtifactNotFound, id)
	}
	if err := os.Remove(artifact.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete artifact %s: %w", id, err)
	}
	delete(index, id)
	return fs.writeIndex(index)
}

func (fs *FileSystemArtifactStore) writeFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fs.config.FilePermissions)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if fs.config.SyncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func (fs *FileSystemArtifactStore) readIndex() (map[string]*Artifact, error) {
	index := make(map[string]*Artifact)
	data, err := os.ReadFile(filepath.Join(fs.basePath, indexFile))
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact index: %w", err)
	}
	var entries []*Artifact
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact index: %w", err)
	}
	for _, a := range entries {
		index[a.ID] = a
	}
	return index, nil
}

func (fs *FileSystemArtifactStore) writeIndex(index map[string]*Artifact) error {
	entries := make([]*Artifact, 0, len(index))
	for _, a := range index {
		entries = append(entries, a)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal artifact index: %w", err)
	}
	if err := fs.writeFile(filepath.Join(fs.basePath, indexFile), data); err != nil {
		return fmt.Errorf("failed to write artifact index: %w", err)
	}
	return nil
}
