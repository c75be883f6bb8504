package runner

import (
	"strconv"
	"strings"

	"github.com/jamox/tmc-sandbox/api"
	"github.com/jamox/tmc-sandbox/internal/supervise"
)

// Entry names the guest writes into the output container.
const (
	exitCodeEntry   = "exit_code.txt"
	testOutputEntry = "test_output.txt"
	stdoutEntry     = "stdout.txt"
	stderrEntry     = "stderr.txt"
)

// classify maps a supervision status to the run result.
//
// A zero VM exit alone does not mean success: the guest reports the
// harness outcome through exit_code.txt inside the output container. A
// missing or unparseable inner exit code after a zero VM exit is a
// failure with the exit code omitted.
func classify(st supervise.Status, outputTar string) (api.RunStatus, *int) {
	if st.TimedOut {
		return api.RunTimeout, nil
	}
	if st.ExitCode != 0 {
		return api.RunFailed, nil
	}

	raw, err := readTarEntry(outputTar, exitCodeEntry)
	if err != nil {
		return api.RunFailed, nil
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return api.RunFailed, nil
	}

	if code == 0 {
		return api.RunFinished, &code
	}
	return api.RunFailed, &code
}

// Outputs are the streams captured from the output container.
type Outputs struct {
	TestOutput string
	Stdout     string
	Stderr     string
}

// extractOutputs reads the capture entries best-effort: a missing or
// unreadable entry is an empty string, never an error.
func extractOutputs(outputTar string) Outputs {
	return Outputs{
		TestOutput: readTarEntryBestEffort(outputTar, testOutputEntry),
		Stdout:     readTarEntryBestEffort(outputTar, stdoutEntry),
		Stderr:     readTarEntryBestEffort(outputTar, stderrEntry),
	}
}
