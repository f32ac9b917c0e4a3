package eventstore

import "github.com/lighthouse/bridge/core"

// Error-kind helpers mapping eventstore failures onto core.FrameworkError
// kinds per spec §4.1's stated error semantics: validation failures →
// security, auth failures → auth, resource caps → resource, I/O or
// corruption → io.

func invalidInputErr(op string, err error) error {
	return core.NewFrameworkError(op, core.KindInvalidInput, err)
}

func authErr(op string, err error) error {
	return core.NewFrameworkError(op, core.KindAuth, err)
}

func resourceErr(op string, err error) error {
	return core.NewFrameworkError(op, core.KindResource, err)
}

func ioErr(op string, err error) error {
	return core.NewFrameworkError(op, core.KindIO, err)
}
