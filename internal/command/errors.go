package command

import (
	"errors"
	"fmt"

	"github.com/onexay/catapult/internal/output"
	"github.com/onexay/catapult/internal/service"
	"github.com/onexay/catapult/internal/storage"
)

// exitCode reports err to the operator and returns the process exit code.
// Every command error passes through here.
func (c *cli) exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, service.ErrAborted) {
		// The abort has already been reported by the prompt.
		return 1
	}
	c.log.Debug().Err(err).Msg("command failed")
	fmt.Fprintln(c.errOut, output.Error.Render(message(err)))
	return 1
}

// message is the operator-facing text for err.
func message(err error) string {
	var notFound *storage.NotFoundError
	switch {
	case errors.As(err, &notFound), errors.Is(err, service.ErrReleaseNotFound):
		return "Release does not exist"
	case errors.Is(err, service.ErrNotReleased):
		return "Commit not released yet"
	}
	return "Error: " + err.Error()
}
