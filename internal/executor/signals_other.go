//go:build !unix

package executor

import (
	"os"
	"os/exec"
)

var relayedSignals = []os.Signal{os.Interrupt}

func terminate(p *os.Process) error {
	return p.Kill()
}

func signalName(*exec.ExitError) (string, bool) {
	return "", false
}
