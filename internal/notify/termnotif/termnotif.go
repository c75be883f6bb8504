// Package termnotif prints run results to the terminal. Used by the
// submit CLI.
package termnotif

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/jamox/tmc-sandbox/api"
)

type Notifier struct{}

func New() *Notifier { return &Notifier{} }

func (t *Notifier) Notify(n api.Notification) error {
	switch n.Status {
	case api.RunFinished:
		color.Green("== Run finished ==")
	case api.RunTimeout:
		color.Yellow("== Run timed out ==")
	default:
		color.Red("== Run failed ==")
	}

	if n.ExitCode != nil {
		fmt.Printf("exit code: %d\n", *n.ExitCode)
	} else {
		fmt.Println("exit code: none")
	}

	printStream("test_output", n.TestOutput)
	printStream("stdout", n.Stdout)
	printStream("stderr", n.Stderr)
	return nil
}

func printStream(name string, content string) {
	if content == "" {
		return
	}
	fmt.Printf("%s:\n%s\n", name, content)
}
