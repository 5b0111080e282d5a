package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawStringLen(t *testing.T) {
	for i, tc := range []struct {
		input    string
		expected int
	}{
		{input: "", expected: 0},
		{input: "a", expected: 1},
		{input: "a\033", expected: 2},
		{input: "a\033[", expected: 3},
		{input: "a\033[2", expected: 4},
		{input: "a\033[2A", expected: 1},
		{input: "a\033[2Aa", expected: 2},
	} {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			l := rawStringLen(tc.input)
			assert.Equal(t, tc.expected, l)
		})
	}
}

func TestUnpack(t *testing.T) {
	entry, err := unpack([]byte(`{"ts":1700000000000000000,"caller":"learn/engine.go:10","msg":"learned","level":3,"channel":0,"source":"nanoKONTROL2"}`))
	require.NoError(t, err)
	assert.Equal(t, "learned", entry.Msg)
	assert.Equal(t, logger.ActionLvl, entry.Level)
	require.NotNil(t, entry.Channel)
	assert.Equal(t, 0, *entry.Channel)
	assert.Equal(t, int64(1700000000000000000), time.Time(entry.Ts).UnixNano())

	_, err = unpack([]byte("not json"))
	assert.Error(t, err)
}

func TestPrepareString(t *testing.T) {
	au := aurora.NewAurora(false)
	channel := 5
	entry := Entry{
		Ts:      TimeNanosecond(time.Date(2024, 1, 1, 10, 20, 30, 0, time.Local)),
		Msg:     "learned cc 7",
		Level:   logger.ActionLvl,
		Source:  "pad",
		Channel: &channel,
	}

	assert.Equal(t, "[10:20:30.000] learned cc 7 [src=pad] [ch=5]", prepareString(entry, au, -1, logger.ActionLvl))
	assert.Equal(t, "", prepareString(entry, au, -1, logger.InfoLvl))

	aligned := prepareString(entry, au, 60, logger.ActionLvl)
	assert.Len(t, aligned, 60)
}

func TestPrintLogsAlignsToWidth(t *testing.T) {
	var out bytes.Buffer
	c := console{out: &out, au: aurora.NewAurora(false), logLevel: logger.ActionLvl, width: func() int { return 70 }}

	messages := make(chan []byte, 3)
	messages <- []byte(`{"ts":1700000000000000000,"msg":"scene loaded","level":3,"scene":"Sunset"}`)
	messages <- []byte(`{"ts":1700000000000000000,"msg":"routed","level":4}`)
	messages <- []byte("not json")
	close(messages)

	done := make(chan struct{})
	c.printLogs(done, messages, false)
	<-done

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, 70, rawStringLen(lines[0]))
	assert.True(t, strings.HasSuffix(lines[0], "[scene=Sunset]"))
	assert.Equal(t, "not json", lines[1])
}

func TestPrintLogsSilent(t *testing.T) {
	var out bytes.Buffer
	c := console{out: &out, au: aurora.NewAurora(false), logLevel: logger.DebugLvl, width: func() int { return -1 }}
	messages := make(chan []byte, 1)
	messages <- []byte(`{"msg":"x","level":0}`)
	close(messages)

	done := make(chan struct{})
	c.printLogs(done, messages, true)
	<-done
	assert.Empty(t, out.String())
}

func TestTerminalWidthOfPipe(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	assert.Equal(t, -1, terminalWidth(int(w.Fd())))
}
