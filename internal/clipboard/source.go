// Package clipboard reads the OS clipboard and watches it for changes.
package clipboard

import (
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"sync"

	xclipboard "golang.design/x/clipboard"

	"spiegel/internal/domain"
)

// ErrRead marks a transient failure to read the clipboard; the watch
// loop skips the tick and keeps going.
var ErrRead = errors.New("clipboard read failed")

// ErrEmpty is returned when the clipboard holds nothing we understand.
var ErrEmpty = errors.New("clipboard empty")

// Source reads the current clipboard content. Implementations must be
// safe for repeated calls from a single polling goroutine.
type Source interface {
	Read() (domain.Content, error)
}

// SystemSource reads the real OS clipboard. Text is preferred; an
// image (PNG) is read when no text is present.
type SystemSource struct {
	initOnce sync.Once
	initErr  error
}

// NewSystemSource returns a Source backed by the OS clipboard.
func NewSystemSource() *SystemSource {
	return &SystemSource{}
}

// Read implements Source.
func (s *SystemSource) Read() (domain.Content, error) {
	s.initOnce.Do(func() {
		s.initErr = xclipboard.Init()
	})
	if s.initErr != nil {
		return domain.Content{}, fmt.Errorf("%w: %v", ErrRead, s.initErr)
	}

	if txt := xclipboard.Read(xclipboard.FmtText); len(txt) > 0 {
		return domain.Text(string(txt)), nil
	}

	if data := xclipboard.Read(xclipboard.FmtImage); len(data) > 0 {
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return domain.Content{}, fmt.Errorf("%w: decode image: %v", ErrRead, err)
		}
		return domain.Image(data, cfg.Width, cfg.Height), nil
	}

	return domain.Content{}, ErrEmpty
}
