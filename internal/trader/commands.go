package trader

import "fmt"

// CommandKind identifies a manual instruction sent to the machine.
type CommandKind string

const (
	CommandOpenLong  CommandKind = "open_long"
	CommandOpenShort CommandKind = "open_short"
	CommandClose     CommandKind = "close"
)

// Command is a manual instruction. Manual and automatic trading share the
// same lifecycle: commands are applied between ticks, never concurrently
// with one.
type Command struct {
	Kind CommandKind `json:"kind"`
	// Result receives the outcome of applying the command. Buffered by the
	// sender; the machine never blocks on it.
	Result chan error `json:"-"`
}

func (c Command) reply(err error) {
	if c.Result == nil {
		return
	}
	select {
	case c.Result <- err:
	default:
	}
}

func validateCommand(kind CommandKind) error {
	switch kind {
	case CommandOpenLong, CommandOpenShort, CommandClose:
		return nil
	default:
		return fmt.Errorf("unknown command %q", kind)
	}
}
