package core

import (
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/Dicklesworthstone/cmdgate/internal/utils"
)

// Execution is the result of running an authorized command. Nothing is ever
// run on the host: the output is a fixed mock line.
type Execution struct {
	Output string   `json:"execution_result"`
	Argv   []string `json:"argv"`
	Hash   string   `json:"hash"`
}

// Simulate produces the mock execution record for text. Text that does not
// tokenize as shell words falls back to whitespace splitting.
func Simulate(text string) Execution {
	argv, err := shellwords.Parse(text)
	if err != nil || len(argv) == 0 {
		argv = strings.Fields(text)
	}
	return Execution{
		Output: "Mock execution of: " + text,
		Argv:   argv,
		Hash:   utils.CommandHash(text, argv),
	}
}
