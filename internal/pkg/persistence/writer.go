package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/gethiox/midmx/internal/pkg/scene"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Writer saves documents in the background. Callers mutate in-memory state first and then mark the
// document as changed, its content is read from the source when it is written, so the file always
// follows the latest in-memory state. Failures are logged and never rolled back.
type Writer struct {
	gateway Gateway
	signal  chan struct{}

	mutex         sync.Mutex
	pendingConfig func() Config
	pendingScenes func() []scene.Scene
	failures      int

	write sync.Mutex // serializes gateway access between the loop and Flush
}

func NewWriter(gateway Gateway) *Writer {
	return &Writer{
		gateway: gateway,
		signal:  make(chan struct{}, 1),
	}
}

// ConfigChanged marks configuration document dirty, source is called when the document is written.
func (w *Writer) ConfigChanged(source func() Config) {
	w.mutex.Lock()
	w.pendingConfig = source
	w.mutex.Unlock()
	w.notify()
}

// ScenesChanged marks scenes document dirty, source is called when the document is written.
func (w *Writer) ScenesChanged(source func() []scene.Scene) {
	w.mutex.Lock()
	w.pendingScenes = source
	w.mutex.Unlock()
	w.notify()
}

func (w *Writer) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Run writes pending documents until context is done, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
root:
	for {
		select {
		case <-ctx.Done():
			break root
		case <-w.signal:
			_ = w.Flush()
		}
	}
	err := w.Flush()
	if err != nil {
		log.Info(fmt.Sprintf("final persistence flush failed: %s", err), logger.Error)
	}
}

// Flush synchronously writes pending documents.
func (w *Writer) Flush() error {
	w.write.Lock()
	defer w.write.Unlock()

	w.mutex.Lock()
	configSource, scenesSource := w.pendingConfig, w.pendingScenes
	w.pendingConfig, w.pendingScenes = nil, nil
	w.mutex.Unlock()

	// sources are read after the dirty marks are cleared, later changes mark them again
	var errs error
	if configSource != nil {
		config := copyConfig(configSource())
		err := w.gateway.SaveConfig(config)
		if err != nil {
			w.failed("configuration", err)
			errs = multierr.Append(errs, err)
		} else {
			log.Info("configuration saved", zap.Int("mappings", len(config.Mappings)), logger.Debug)
		}
	}
	if scenesSource != nil {
		scenes := copyScenes(scenesSource())
		err := w.gateway.SaveScenes(scenes)
		if err != nil {
			w.failed("scenes", err)
			errs = multierr.Append(errs, err)
		} else {
			log.Info("scenes saved", zap.Int("scenes", len(scenes)), logger.Debug)
		}
	}
	return errs
}

func (w *Writer) failed(document string, err error) {
	w.mutex.Lock()
	w.failures++
	w.mutex.Unlock()
	log.Info(fmt.Sprintf("saving %s failed: %s", document, err), logger.Error)
}

// Failures returns number of failed writes so far.
func (w *Writer) Failures() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.failures
}
