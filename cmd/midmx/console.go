package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gethiox/midmx/internal/pkg/logger"
	"github.com/logrusorgru/aurora"
	"golang.org/x/sys/unix"
)

type TimeNanosecond time.Time

func (j *TimeNanosecond) UnmarshalJSON(b []byte) error {
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return err
	}
	*j = TimeNanosecond(time.Unix(0, v))
	return nil
}

func (j TimeNanosecond) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(j))
}

type Entry struct {
	Ts     TimeNanosecond `json:"ts"`
	Caller string         `json:"caller"`
	Msg    string         `json:"msg"`
	Level  int            `json:"level"`

	Source  string `json:"source"`
	Scene   string `json:"scene"`
	Channel *int   `json:"channel"`
	Session string `json:"session"`
	Path    string `json:"path"`
}

func unpack(data []byte) (Entry, error) {
	var v Entry
	err := json.Unmarshal(data, &v)
	return v, err
}

func gray(v uint8) aurora.Color {
	if v > 23 {
		v = 23
	}
	return aurora.Color(232+v) << 16
}

func color(r, g, b uint8) aurora.Color {
	return aurora.Color(16+36*r+6*g+b) << 16
}

func terminator(r rune) bool {
	return r >= 0x40 && r <= 0x7e
}

// returns color for string, the same string always gets the same color
func colorForString(au aurora.Aurora, s string) aurora.Value {
	h := fnv.New32a()
	h.Write([]byte(s))
	sum := h.Sum32()

	r, g, b := uint8(sum)&0b00000111, uint8(sum>>8)&0b00000111, uint8(sum>>16)&0b00000111
	if r > 5 {
		r = 5
	}
	if g > 5 {
		g = 5
	}
	if b > 5 {
		b = 5
	}

	// avoid dark colors
	if r+g+b < 3 {
		r += 1
		g += 1
		b += 1
	}

	return au.Index(16+36*r+6*g+b, s)
}

// rawStringLen returns a len of string ignoring included escape sequences
func rawStringLen(s string) int {
	var sequence bool
	var escLens []int
	var escLen int

	for i, r := range s {
		if !sequence {
			if r == '\033' {
				if i >= len(s)-1 { // esc seems to be last character
					continue
				}
				if s[i+1] == '[' {
					sequence = true
					escLen += 1
					continue
				}
			}
		} else {
			if r == '[' && s[i-1] == '\033' {
				escLen += 1
				continue
			}
			if terminator(r) {
				sequence = false
				escLen += 1
				escLens = append(escLens, escLen)
				escLen = 0
			} else {
				escLen += 1
			}
		}
	}
	var sum int
	for _, x := range escLens {
		sum += x
	}
	return len(s) - sum
}

func levelColor(level int) aurora.Color {
	switch level {
	case logger.ErrorLvl:
		return color(5, 1, 1)
	case logger.WarningLvl:
		return color(5, 5, 1)
	case logger.InfoLvl:
		return gray(20)
	case logger.ActionLvl:
		return color(1, 5, 2)
	case logger.MidiLvl:
		return gray(15)
	case logger.DmxLvl:
		return gray(12)
	default:
		return gray(9)
	}
}

// prepareString formats log entry for the console, width -1 disables alignment of fields.
func prepareString(msg Entry, au aurora.Aurora, width, logLevel int) string {
	if msg.Level > logLevel {
		return ""
	}

	t := time.Time(msg.Ts)
	timestamp := fmt.Sprintf("[%s]", au.Reset(t.Format("15:04:05.000")).Colorize(color(1, 1, 5)).String())

	var fields []string
	if msg.Source != "" {
		fields = append(fields, fmt.Sprintf("[src=%s]", colorForString(au, msg.Source).String()))
	}
	if msg.Scene != "" {
		fields = append(fields, fmt.Sprintf("[scene=%s]", colorForString(au, msg.Scene).String()))
	}
	if msg.Channel != nil {
		fields = append(fields, fmt.Sprintf("[ch=%s]", colorForString(au, strconv.Itoa(*msg.Channel)).String()))
	}
	if msg.Session != "" {
		session := msg.Session
		if len(session) > 8 {
			session = session[:8]
		}
		fields = append(fields, fmt.Sprintf("[session=%s]", colorForString(au, session).String()))
	}
	if msg.Path != "" {
		fields = append(fields, fmt.Sprintf("[path=%s]", msg.Path))
	}
	if logLevel >= logger.DebugLvl && msg.Caller != "" {
		x := strings.SplitN(msg.Caller, ":", 2)
		if len(x) == 2 {
			fields = append(fields, fmt.Sprintf("(%s:%s)", colorForString(au, x[0]).String(), x[1]))
		}
	}
	joined := strings.Join(fields, " ")

	m := au.Reset(msg.Msg).Colorize(levelColor(msg.Level)).String()
	if width < 0 {
		return strings.TrimRight(fmt.Sprintf("%s %s %s", timestamp, m, joined), " ")
	}

	freeSpace := width - (rawStringLen(timestamp) + 1 + len(msg.Msg) + 1 + rawStringLen(joined))
	if freeSpace < 0 {
		freeSpace = 0
	}
	return fmt.Sprintf("%s %s%s %s", timestamp, m, strings.Repeat(" ", freeSpace), joined)
}

// terminalWidth returns column count of the terminal attached to fd, -1 when it is not a terminal.
func terminalWidth(fd int) int {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil || ws.Col == 0 {
		return -1
	}
	return int(ws.Col)
}

type console struct {
	out      io.Writer
	au       aurora.Aurora
	logLevel int
	width    func() int // queried per entry so resizes apply, -1 disables alignment
}

// printLogs prints log entries until messages is closed.
func (c console) printLogs(done chan<- struct{}, messages <-chan []byte, silent bool) {
	defer close(done)
	if silent {
		for range messages {
		}
		return
	}

	for data := range messages {
		msg, err := unpack(data)
		if err != nil {
			fmt.Fprintf(c.out, "%s\n", string(data))
			continue
		}
		m := prepareString(msg, c.au, c.width(), c.logLevel)
		if m != "" {
			fmt.Fprintf(c.out, "%s\n", m)
		}
	}
}
