package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var Messages = make(chan []byte, 256)

const (
	ErrorLvl   = 0
	WarningLvl = 1
	InfoLvl    = 2
	ActionLvl  = 3
	MidiLvl    = 4
	DmxLvl     = 5

	DebugLvl = 378
)

var (
	Error   = zap.Int("level", ErrorLvl)
	Warning = zap.Int("level", WarningLvl)
	Info    = zap.Int("level", InfoLvl)
	Action  = zap.Int("level", ActionLvl) // learn state transitions, scene loads
	Midi    = zap.Int("level", MidiLvl)   // every routed midi event
	Dmx     = zap.Int("level", DmxLvl)    // every channel write

	Debug = zap.Int("level", DebugLvl)
)

type chanWriter struct {
	sync.Mutex
	messages chan<- []byte
}

func (w *chanWriter) Write(p []byte) (n int, err error) {
	w.Lock()
	var newSlice = make([]byte, len(p))
	copy(newSlice, p)
	w.messages <- newSlice
	w.Unlock()
	return len(p), nil
}

func (w *chanWriter) Sync() error {
	return nil
}

var (
	once   sync.Once
	shared *zap.Logger
)

// GetLogger returns process-wide logger that emits JSON encoded entries into Messages channel.
// Messages has to be drained by someone, otherwise logging blocks once the buffer is full.
func GetLogger() *zap.Logger {
	once.Do(func() {
		shared = newLogger(Messages)
	})
	return shared
}

func newLogger(messages chan<- []byte) *zap.Logger {
	writer := &chanWriter{messages: messages}
	cfg := zap.NewProductionEncoderConfig()
	cfg.SkipLineEnding = true
	cfg.EncodeTime = zapcore.EpochNanosTimeEncoder
	cfg.LevelKey = ""
	encoder := zapcore.NewJSONEncoder(cfg)

	return zap.New(
		zapcore.NewCore(encoder, zapcore.Lock(writer), zap.DebugLevel),
		zap.AddCaller(),
	)
}

// Discard drains Messages in the background, used by tests and silent mode.
func Discard() {
	go func() {
		for range Messages {
		}
	}()
}
