package util

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/buger/goterm"
	"github.com/stretchr/testify/assert"

	"github.com/sidkik/syncotter/pkg/errors"
)

func mockExit(t *testing.T) (*bytes.Buffer, *int) {
	var out bytes.Buffer
	code := -1
	stderr = &out
	exit = func(c int) { code = c }
	t.Cleanup(func() {
		stderr = os.Stderr
		exit = os.Exit
	})
	return &out, &code
}

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expOut string
	}{
		{
			name:   "Wrapped",
			err:    errors.WithContext(errors.New("permission denied"), "scan"),
			expOut: "scan: permission denied\n",
		},
		{
			name: "Friendly",
			err: errors.WithContext(
				errors.NewFriendlyError("The source %q is not a directory.", "/src"), "scan"),
			expOut: "The source \"/src\" is not a directory.\n",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			out, code := mockExit(t)
			HandleFatalError(test.err)
			assert.Equal(t, 1, *code)
			assert.Equal(t, test.expOut, out.String())
		})
	}
}

func TestHandlePanic(t *testing.T) {
	out, code := mockExit(t)
	func() {
		defer HandlePanic()
		panic("boom")
	}()
	assert.Equal(t, 1, *code)
	assert.Equal(t, "SyncOtter crashed: boom\n", out.String())
}

func TestHandlePanicNoPanic(t *testing.T) {
	_, code := mockExit(t)
	func() {
		defer HandlePanic()
	}()
	assert.Equal(t, -1, *code)
}

func TestPromptYesOrNo(t *testing.T) {
	tests := []struct {
		input string
		exp   bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{" yes \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"maybe\n", false},
	}

	defer func() { stdin = os.Stdin }()
	for _, test := range tests {
		stdin = strings.NewReader(test.input)
		resp, err := PromptYesOrNo("Continue?")
		assert.NoError(t, err)
		assert.Equal(t, test.exp, resp, "input %q", test.input)
	}
}

func TestRenderProgress(t *testing.T) {
	tests := []struct {
		name     string
		current  int
		total    int
		fileName string
		width    int
		exp      string
	}{
		{
			name:     "Halfway",
			current:  5,
			total:    10,
			fileName: "a.txt",
			width:    60,
			exp:      "[==========>         ] 5/10 a.txt",
		},
		{
			name:    "Done",
			current: 10,
			total:   10,
			width:   30,
			exp:     "[==========] 10/10",
		},
		{
			name:     "LongName",
			current:  0,
			total:    4,
			fileName: "very/long/path/to/a/file.bin",
			width:    30,
			exp:      "[>         ] 0/4 ...a/file.bin",
		},
		{
			name:    "NoTotal",
			current: 0,
			total:   0,
			width:   30,
			exp:     "[>         ] 0/1",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			actual := RenderProgress(test.current, test.total, test.fileName, test.width)
			assert.Equal(t, test.exp, actual)
			assert.True(t, len(actual) <= test.width)
		})
	}
}

func TestProgressBarFallbackWidth(t *testing.T) {
	terminalWidth = func() int { return -1 }
	defer func() { terminalWidth = goterm.Width }()

	var out bytes.Buffer
	bar := NewProgressBar(&out)
	bar.Update(1, 2, "file")
	bar.Done()

	assert.Equal(t, ClearProgress+RenderProgress(1, 2, "file", defaultWidth)+"\n", out.String())
}

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	pp := NewProgressPrinter(&out, "Checking")
	go pp.Run()
	pp.StopWithPrint(ClearProgress)

	assert.True(t, strings.HasPrefix(out.String(), "\rChecking |"))
	assert.True(t, strings.HasSuffix(out.String(), ClearProgress))

	// Stopping twice is harmless.
	pp.Stop()
}
