package proc

import (
	"os/exec"
	"strings"

	"github.com/loykin/guardian/internal/logger"
)

// Spec describes one process launch: the opaque "start executable with
// arguments in a working directory" primitive the supervisor builds on.
type Spec struct {
	Name    string
	Command string // command line; run through /bin/sh -c when it needs a shell
	WorkDir string
	Env     []string // extra KEY=VALUE entries appended to the parent env
	Log     logger.Config
}

// BuildCommand constructs the *exec.Cmd for the spec. Plain commands are
// executed directly; anything containing shell metacharacters is wrapped in
// /bin/sh -c so redirections and pipelines keep working.
func (s Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}
