package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"db-backup-utility/internal/backup"
)

// ProgressBar shows how many tables of a run are done. It redraws a single
// line, so it should only be attached to a terminal.
type ProgressBar struct {
	out       io.Writer
	colors    *ColorSystem
	width     int
	total     int
	current   int
	failed    int
	label     string
	startedAt time.Time
	mu        sync.Mutex
}

// NewProgressBar creates a bar writing to out
func NewProgressBar(out io.Writer, theme ColorTheme) *ProgressBar {
	return &ProgressBar{
		out:    out,
		colors: NewColorSystem(out, theme),
		width:  30,
	}
}

// Start resets the bar for total tables
func (pb *ProgressBar) Start(total int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.total = total
	pb.current = 0
	pb.failed = 0
	pb.label = ""
	pb.startedAt = time.Now()
	if total > 0 {
		pb.render()
	}
}

// TableDone advances the bar by one table. Safe for concurrent workers.
func (pb *ProgressBar) TableDone(result backup.TableResult) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.current++
	if result.Failure != nil {
		pb.failed++
	}
	pb.label = result.Table.Name
	pb.render()
}

// Finish clears the bar line
func (pb *ProgressBar) Finish() {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.total > 0 {
		fmt.Fprint(pb.out, "\r\033[K")
	}
}

func (pb *ProgressBar) render() {
	fmt.Fprint(pb.out, "\r\033[K"+pb.line())
}

func (pb *ProgressBar) line() string {
	if pb.total <= 0 {
		return ""
	}
	percent := float64(pb.current) / float64(pb.total)
	filled := int(percent * float64(pb.width))
	if filled > pb.width {
		filled = pb.width
	}

	bar := strings.Repeat("=", filled)
	if filled < pb.width {
		bar += ">" + strings.Repeat(" ", pb.width-filled-1)
	}

	clr := pb.colors.Theme().Primary
	if pb.failed > 0 {
		clr = pb.colors.Theme().Warning
	}

	line := fmt.Sprintf("[%s] %d/%d %3.0f%%", pb.colors.Colorize(bar, clr), pb.current, pb.total, percent*100)
	if pb.failed > 0 {
		line += pb.colors.Sprintf(pb.colors.Theme().Error, " (%d failed)", pb.failed)
	}
	if pb.label != "" {
		line += " " + pb.label
	}
	return line
}
