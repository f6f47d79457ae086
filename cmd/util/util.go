package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/buger/goterm"
	log "github.com/sirupsen/logrus"

	"github.com/sidkik/syncotter/pkg/errors"
)

// Mocked out for unit testing.
var (
	stdin  io.Reader = os.Stdin
	stderr io.Writer = os.Stderr
	exit             = os.Exit

	terminalWidth = goterm.Width
)

// ClearProgress is the escape sequence that clears the current line.
const ClearProgress = "\r\033[K"

// defaultWidth is used when the output isn't a terminal.
const defaultWidth = 80

// HandleFatalError prints the error and exits. Friendly errors are printed
// as is, and other errors are printed along with their context.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(stderr, GetPrintableMessage(err))
	exit(1)
}

// GetPrintableMessage returns the message to show the user for `err`.
func GetPrintableMessage(err error) string {
	return errors.GetPrintableMessage(err)
}

// HandlePanic logs panics with their stack trace before exiting, so that
// crashes can be debugged from the user's output.
func HandlePanic() {
	if r := recover(); r != nil {
		log.WithField("stack", string(debug.Stack())).Error("Unexpected crash")
		fmt.Fprintf(stderr, "SyncOtter crashed: %v\n", r)
		exit(1)
	}
}

// PromptYesOrNo asks the user a yes or no question. Anything other than an
// explicit yes is treated as no.
func PromptYesOrNo(prompt string) (bool, error) {
	fmt.Printf("%s (y/N) ", prompt)
	resp, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, errors.WithContext(err, "read response")
	}

	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ProgressPrinter prints a spinner until it's stopped.
type ProgressPrinter struct {
	out      io.Writer
	msg      string
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewProgressPrinter creates a ProgressPrinter that writes `msg` to `out`.
func NewProgressPrinter(out io.Writer, msg string) *ProgressPrinter {
	return &ProgressPrinter{
		out:      out,
		msg:      msg,
		interval: 250 * time.Millisecond,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run prints the spinner until Stop is called.
func (pp *ProgressPrinter) Run() {
	defer close(pp.done)

	spinner := []string{"|", "/", "-", "\\"}
	ticker := time.NewTicker(pp.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		fmt.Fprintf(pp.out, "\r%s %s", pp.msg, spinner[i%len(spinner)])
		select {
		case <-ticker.C:
		case <-pp.stop:
			return
		}
	}
}

// Stop stops the spinner and moves to a new line.
func (pp *ProgressPrinter) Stop() {
	pp.StopWithPrint("\n")
}

// StopWithPrint stops the spinner and prints `msg`.
func (pp *ProgressPrinter) StopWithPrint(msg string) {
	pp.stopOnce.Do(func() {
		close(pp.stop)
		<-pp.done
		fmt.Fprint(pp.out, msg)
	})
}

// ProgressBar renders the progress of a sync on a single line.
type ProgressBar struct {
	out io.Writer
}

// NewProgressBar creates a ProgressBar that writes to `out`.
func NewProgressBar(out io.Writer) ProgressBar {
	return ProgressBar{out}
}

// Update redraws the bar.
func (bar ProgressBar) Update(current, total int, fileName string) {
	fmt.Fprint(bar.out, ClearProgress+RenderProgress(current, total, fileName, width()))
}

// Done moves past the bar so that later output isn't drawn over it.
func (bar ProgressBar) Done() {
	fmt.Fprintln(bar.out)
}

// RenderProgress formats a progress line that fits in `width` columns, such
// as `[=====>    ] 5/10 path/to/file`.
func RenderProgress(current, total int, fileName string, width int) string {
	if total <= 0 {
		total = 1
	}
	if current > total {
		current = total
	}

	barWidth := width / 3
	if barWidth < 10 {
		barWidth = 10
	}
	filled := barWidth * current / total

	bar := strings.Repeat("=", filled)
	if filled < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-filled-1)
	}

	line := fmt.Sprintf("[%s] %d/%d", bar, current, total)
	if room := width - len(line) - 1; room > 3 && fileName != "" {
		if len(fileName) > room {
			fileName = "..." + fileName[len(fileName)-room+3:]
		}
		line += " " + fileName
	}
	return line
}

func width() int {
	if w := terminalWidth(); w > 0 {
		return w
	}
	return defaultWidth
}
