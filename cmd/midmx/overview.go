package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gethiox/midmx/internal/pkg/learn"
	"github.com/gethiox/midmx/internal/pkg/mapping"
	"github.com/logrusorgru/aurora"
)

// overview renders inputs, channel mappings and learn sessions, printed on SIGUSR1.
func overview(au aurora.Aurora, ports []string, mappings map[int]mapping.Binding, sessions []learn.Session) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("inputs: %d", len(ports)))
	for _, p := range ports {
		lines = append(lines, fmt.Sprintf("└ %s", colorForString(au, p).String()))
	}

	var channels = make([]int, 0, len(mappings))
	for ch := range mappings {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	lines = append(lines, fmt.Sprintf("mappings: %d", len(channels)))
	for _, ch := range channels {
		b := mappings[ch]
		lines = append(lines, fmt.Sprintf("└ dmx %3d (address %3d) <- %s", ch, ch+1, colorForString(au, b.String()).String()))
	}

	if len(sessions) == 0 {
		lines = append(lines, "learn: idle")
	}
	for _, s := range sessions {
		lines = append(lines, fmt.Sprintf("learn: %s until %s", s.Target(), s.Deadline.Format("15:04:05")))
	}
	return strings.Join(lines, "\n")
}
