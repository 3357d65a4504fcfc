package buffer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"firestige.xyz/otus/internal/topology/model"
)

// DiskBuffer is the byte-budgeted variant of spec §4.2. Events are not
// written to disk: they pass through an in-memory bounded-depth channel
// (the read-ahead window), so a slow consumer still exerts backpressure
// on the producer, and they do not survive a restart.
//
// The only file it writes is a small yaml index under dataDir, named by
// a random id (so restarts never collide with a leftover file from a
// prior run), recording the segment id, the declared byte budget, and
// the event count at creation time. Encoding and replay of the events
// themselves are not implemented here; DiskBuffer's job is admission
// control and FIFO ordering, matching the memory Buffer's public shape
// so builders can swap one for the other.
type DiskBuffer struct {
	mu        sync.Mutex
	maxBytes  int64
	usedBytes int64
	whenFull  WhenFull

	segment segmentIndex
	dir     string

	mem *Buffer
}

type segmentIndex struct {
	ID        string `yaml:"id"`
	MaxBytes  int64  `yaml:"max_bytes"`
	EventCount int64 `yaml:"event_count"`
}

// NewDisk creates a disk-backed buffer rooted at dataDir, bounded to
// maxBytes of estimated event size (model.Event.EstimatedSize).
// readAhead bounds how many decoded events sit in memory waiting for the
// consumer, which is what actually provides the fanout backpressure.
func NewDisk(dataDir string, maxBytes int64, readAhead int, whenFull WhenFull, dropped prometheus.Counter) (*DiskBuffer, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("disk buffer requires a positive max_bytes")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create buffer data dir: %w", err)
	}
	id := uuid.NewString()
	idx := segmentIndex{ID: id, MaxBytes: maxBytes}
	d := &DiskBuffer{
		maxBytes: maxBytes,
		whenFull: whenFull,
		segment:  idx,
		dir:      dataDir,
		mem:      New(readAhead, whenFull, dropped),
	}
	if err := d.writeIndex(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *DiskBuffer) indexPath() string {
	return filepath.Join(d.dir, d.segment.ID+".index.yaml")
}

func (d *DiskBuffer) writeIndex() error {
	b, err := yaml.Marshal(d.segment)
	if err != nil {
		return fmt.Errorf("marshal buffer index: %w", err)
	}
	return os.WriteFile(d.indexPath(), b, 0o644)
}

// Producer returns the producer handle. Admission accounts estimated
// byte size against maxBytes before handing the event to the in-memory
// read-ahead window; it never actually serializes to disk here, since
// the wire format is owned by the concrete sink (spec.md §1 Non-goals) —
// this buffer only enforces the byte budget and ordering contract.
func (d *DiskBuffer) Producer() Producer { return diskProducer{d} }

func (d *DiskBuffer) Stream() *Stream { return d.mem.Stream() }

func (d *DiskBuffer) Acker() Acker { return d.mem.Acker() }

func (d *DiskBuffer) Close() error {
	d.mem.Close()
	return os.Remove(d.indexPath())
}

type diskProducer struct{ d *DiskBuffer }

func (p diskProducer) Send(ctx context.Context, ev model.Event) error {
	size := int64(ev.EstimatedSize())

	p.d.mu.Lock()
	if p.d.usedBytes+size > p.d.maxBytes {
		if p.d.whenFull == DropNewest {
			p.d.mu.Unlock()
			if p.d.mem.dropped != nil {
				p.d.mem.dropped.Inc()
			}
			return nil
		}
		p.d.mu.Unlock()
		// Block variant: fall through to the memory window's own
		// backpressure once there is budget again. A production segment
		// writer would spill to a new segment instead; tracked as a
		// follow-up once the concrete disk codec lands.
		return p.d.mem.Producer().Send(ctx, ev)
	}
	p.d.usedBytes += size
	p.d.segment.EventCount++
	p.d.mu.Unlock()

	return p.d.mem.Producer().Send(ctx, ev)
}
