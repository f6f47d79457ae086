package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/syncotter/pkg/errors"
)

// summaryMessage is the message of the entry logged at the end of every
// sync.
const summaryMessage = "Sync complete"

var csvHeader = []string{"report", "timestamp", "runID", "copied", "bytes",
	"errors", "duration", "throughput"}

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	fs   = afero.NewOsFs()
)

// Combines the sync summaries in the reports written by `syncotter sync
// --report` into one CSV, so that runs across machines can be compared.
func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: combine-reports OUTPUT.csv REPORT.jsonl...")
		os.Exit(1)
	}

	if err := combineReports(os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to combine reports: %s\n", err)
		os.Exit(1)
	}
}

func combineReports(outPath string, reports []string) error {
	out, err := fs.Create(outPath)
	if err != nil {
		return errors.WithContext(err, "create output file")
	}
	defer out.Close()

	csvWriter := csv.NewWriter(out)
	if err := csvWriter.Write(csvHeader); err != nil {
		return errors.WithContext(err, "write csv header")
	}

	var total int
	for _, report := range reports {
		n, err := appendReport(csvWriter, report)
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("append %q", report))
		}
		total += n
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return errors.WithContext(err, "write csv")
	}

	log.WithField("syncs", total).Info("Successfully combined reports")
	return nil
}

func appendReport(out *csv.Writer, path string) (int, error) {
	f, err := fs.Open(path)
	if err != nil {
		return 0, errors.WithContext(err, "open")
	}
	defer f.Close()
	return appendSummaries(out, path, f)
}

func appendSummaries(out *csv.Writer, name string, report io.Reader) (int, error) {
	var n int
	scanner := bufio.NewScanner(report)
	for line := 1; scanner.Scan(); line++ {
		var entry map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.WithError(err).WithField("line", line).Warn("Skipping malformed entry")
			continue
		}

		if entry["message"] != summaryMessage {
			continue
		}

		record := []string{name}
		for _, key := range csvHeader[1:] {
			record = append(record, field(entry, key))
		}
		if err := out.Write(record); err != nil {
			return n, errors.WithContext(err, "write csv")
		}
		n++
	}
	return n, scanner.Err()
}

func field(entry map[string]interface{}, key string) string {
	value, ok := entry[key]
	if !ok {
		return ""
	}

	if number, ok := value.(float64); ok {
		return strconv.FormatFloat(number, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}
