// Package state provides persistent state management for the tag index.
package state

// CurrentVersion is written into every snapshot.
const CurrentVersion = 1

// Snapshot is the persisted form of the tag index.
type Snapshot struct {
	// Version for future compatibility
	Version int `json:"version"`

	// Generation increases with every committed index mutation. Saves of
	// older generations are dropped.
	Generation uint64 `json:"generation"`

	// NextID is the next file identifier to hand out.
	NextID uint64 `json:"next_id"`

	Files []FileRecord `json:"files"`
	Tags  []TagRecord  `json:"tags"`
}

// FileRecord describes one real file known to the index.
type FileRecord struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// TagRecord lists the files carrying one tag. An empty Files slice is a tag
// that was created but not yet applied.
type TagRecord struct {
	Name  string   `json:"name"`
	Files []uint64 `json:"files"`
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version: CurrentVersion,
		NextID:  1,
		Files:   []FileRecord{},
		Tags:    []TagRecord{},
	}
}
