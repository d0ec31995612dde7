package tiles

import (
	"image"
	"sync"

	"github.com/signalsfoundry/globe-console/model"
)

// Resource is a graphics object holding one uploaded tile.
type Resource interface {
	Release()
}

// Attacher uploads a decoded tile with its patch into the scene.
type Attacher interface {
	Attach(key model.TileKey, img image.Image, patch Patch) (Resource, error)
}

// MemoryScene is a headless Attacher that keeps uploaded tiles in memory.
type MemoryScene struct {
	mu       sync.Mutex
	attached map[model.TileKey]*memoryResource
	uploads  int
	releases int
}

// NewMemoryScene constructs an empty scene.
func NewMemoryScene() *MemoryScene {
	return &MemoryScene{attached: make(map[model.TileKey]*memoryResource)}
}

type memoryResource struct {
	scene *MemoryScene
	key   model.TileKey
	img   image.Image
	patch Patch
	once  sync.Once
}

func (r *memoryResource) Release() {
	r.once.Do(func() {
		s := r.scene
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.attached[r.key] == r {
			delete(s.attached, r.key)
		}
		s.releases++
	})
}

// Attach implements Attacher.
func (s *MemoryScene) Attach(key model.TileKey, img image.Image, patch Patch) (Resource, error) {
	r := &memoryResource{scene: s, key: key, img: img, patch: patch}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[key] = r
	s.uploads++
	return r, nil
}

// Attached reports whether key currently has a live resource.
func (s *MemoryScene) Attached(key model.TileKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attached[key]
	return ok
}

// Len returns the number of live resources.
func (s *MemoryScene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

// Counts returns total uploads and releases.
func (s *MemoryScene) Counts() (uploads, releases int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploads, s.releases
}
