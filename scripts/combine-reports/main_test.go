package main

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineReports(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	require.NoError(t, afero.WriteFile(fs, "/laptop.jsonl", []byte(
		`{"message":"Failed to copy file","status":"warning","path":"a"}
{"message":"Sync complete","status":"info","timestamp":"2019-09-22T17:21:39Z","runID":"run-1","copied":3,"bytes":1048576,"errors":1,"duration":"2s","throughput":524288}
not json
`), 0644))
	require.NoError(t, afero.WriteFile(fs, "/desktop.jsonl", []byte(
		`{"message":"Sync complete","timestamp":"2019-09-23T08:00:00Z","runID":"run-2","copied":0,"bytes":0,"errors":0,"duration":"15ms"}
`), 0644))

	require.NoError(t, combineReports("/out.csv", []string{"/laptop.jsonl", "/desktop.jsonl"}))

	out, err := afero.ReadFile(fs, "/out.csv")
	require.NoError(t, err)
	assert.Equal(t,
		"report,timestamp,runID,copied,bytes,errors,duration,throughput\n"+
			"/laptop.jsonl,2019-09-22T17:21:39Z,run-1,3,1048576,1,2s,524288\n"+
			"/desktop.jsonl,2019-09-23T08:00:00Z,run-2,0,0,0,15ms,\n",
		string(out))
}

func TestCombineReportsMissingReport(t *testing.T) {
	fs = afero.NewMemMapFs()
	defer func() { fs = afero.NewOsFs() }()

	err := combineReports("/out.csv", []string{"/missing.jsonl"})
	assert.Error(t, err)
}
