package publish

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
)

// Mode selects how an index is handed to its host.
type Mode string

const (
	// ModeAuto attaches to exports when present, else calls the initializer.
	ModeAuto     Mode = "auto"
	ModeExport   Mode = "export"
	ModeCallback Mode = "callback"
)

var (
	ErrNoExports        = errors.New("publish: no exports object")
	ErrNoInitializer    = errors.New("publish: no initializer")
	ErrAlreadyPublished = errors.New("publish: index already published")
	ErrUnknownMode      = errors.New("publish: unknown mode")
)

// ParseMode validates a mode name. An empty name means ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeExport, ModeCallback:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Exports is the module-export object. The index is bound at most once and
// read through SearchIndex.
type Exports struct {
	mu          sync.RWMutex
	searchIndex *searchindex.Index
}

// SearchIndex returns the exported index, or nil before publication.
func (e *Exports) SearchIndex() *searchindex.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.searchIndex
}

func (e *Exports) attach(ix *searchindex.Index) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.searchIndex != nil {
		return ErrAlreadyPublished
	}
	e.searchIndex = ix
	return nil
}

// InitFunc receives the index in callback mode.
type InitFunc func(*searchindex.Index)

// Host describes the integration points available at load time. Either may
// be nil.
type Host struct {
	Exports    *Exports
	InitSearch InitFunc
}

// Target reports which integration point mode resolves to for h.
func (h Host) Target(mode Mode) (Mode, error) {
	switch mode {
	case ModeAuto, "":
		switch {
		case h.Exports != nil:
			return ModeExport, nil
		case h.InitSearch != nil:
			return ModeCallback, nil
		default:
			return "", nil
		}
	case ModeExport:
		if h.Exports == nil {
			return "", ErrNoExports
		}
		return ModeExport, nil
	case ModeCallback:
		if h.InitSearch == nil {
			return "", ErrNoInitializer
		}
		return ModeCallback, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

// Publisher hands one index to one host, exactly once.
type Publisher struct {
	host Host
	mode Mode

	once   sync.Once
	target Mode
	err    error
}

func NewPublisher(host Host, mode Mode) *Publisher {
	return &Publisher{host: host, mode: mode}
}

// Publish binds ix to the host. Only the first call has any effect; later
// calls return the first call's outcome. The returned mode is the
// integration point actually used, empty when the host offers none.
func (p *Publisher) Publish(ix *searchindex.Index) (Mode, error) {
	p.once.Do(func() {
		if ix == nil {
			p.err = errors.New("publish: nil index")
			return
		}
		p.target, p.err = p.host.Target(p.mode)
		if p.err != nil {
			return
		}
		switch p.target {
		case ModeExport:
			p.err = p.host.Exports.attach(ix)
		case ModeCallback:
			p.host.InitSearch(ix)
		}
	})
	return p.target, p.err
}

// Publish is a one-shot convenience around NewPublisher.
func Publish(ix *searchindex.Index, host Host, mode Mode) (Mode, error) {
	return NewPublisher(host, mode).Publish(ix)
}
