package frame

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

// defaultDirFPS is the replay rate used when none is configured.
const defaultDirFPS = 0.5

// Dir is a [Source] that replays still images from a directory as if they
// were a live feed. Frames advance at a fixed rate from the moment the source
// is created and wrap around at the end, so the analysis loop sees the "feed"
// move on between ticks.
//
// All images are loaded into memory by [NewDir].
type Dir struct {
	frames []*Frame
	fps    float64
	now    func() time.Time
	start  time.Time

	mu     sync.Mutex
	closed bool
}

// DirOption is a functional option for [NewDir].
type DirOption func(*Dir)

// WithFPS sets the replay rate in frames per second. Non-positive values are
// ignored. Default: 0.5.
func WithFPS(fps float64) DirOption {
	return func(d *Dir) {
		if fps > 0 {
			d.fps = fps
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) DirOption {
	return func(d *Dir) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDir loads every .jpg, .jpeg and .png file in path (sorted by name) and
// returns a replaying [Dir]. It fails if the directory holds no images.
func NewDir(path string, opts ...DirOption) (*Dir, error) {
	d := &Dir{
		fps: defaultDirFPS,
		now: time.Now,
	}
	for _, o := range opts {
		o(d)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("frame: read dir %q: %w", path, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if mimeForExt(filepath.Ext(e.Name())) != "" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("frame: no images in %q", path)
	}

	for i, name := range names {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return nil, fmt.Errorf("frame: read %q: %w", name, err)
		}
		f, err := Decode(data, time.Time{})
		if err != nil {
			// Keep the file; the backend may still accept it.
			f = &Frame{Data: data, MIMEType: mimeForExt(filepath.Ext(name))}
		}
		f.Seq = uint64(i + 1)
		d.frames = append(d.frames, f)
	}

	d.start = d.now()
	return d, nil
}

// Capture implements [Source]. The returned frame is a shallow copy whose
// CapturedAt is the capture time; Data is shared and must not be modified.
func (d *Dir) Capture(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, ErrUnavailable
	}

	now := d.now()
	elapsed := now.Sub(d.start).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	idx := int(elapsed*d.fps) % len(d.frames)

	f := *d.frames[idx]
	f.CapturedAt = now
	return &f, nil
}

// Active implements [Source].
func (d *Dir) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed
}

// Len returns the number of images in the replay set.
func (d *Dir) Len() int {
	return len(d.frames)
}

// Close stops the replay. Safe to call multiple times.
func (d *Dir) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	}
	return ""
}
