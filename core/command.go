package core

import "errors"

var ErrCommandExists = errors.New("command code already registered")

// CommandHandler runs in bus interrupt context. It must not block or
// allocate.
type CommandHandler func()

// Command represents a single-byte bus command
type Command struct {
	Code    byte
	Name    string
	Handler CommandHandler
}

// CommandRegistry maps command codes to handlers. It is filled during boot
// and only read afterwards, so lookups from the bus interrupt need no lock.
type CommandRegistry struct {
	commands [256]*Command
	count    int
}

// NewCommandRegistry creates a new command registry
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{}
}

// Register adds a command to the registry
func (r *CommandRegistry) Register(code byte, name string, handler CommandHandler) error {
	if r.commands[code] != nil {
		return ErrCommandExists
	}
	r.commands[code] = &Command{
		Code:    code,
		Name:    name,
		Handler: handler,
	}
	r.count++
	return nil
}

// GetCommand retrieves a command by code
func (r *CommandRegistry) GetCommand(code byte) (*Command, bool) {
	cmd := r.commands[code]
	return cmd, cmd != nil
}

// Count returns the number of registered commands
func (r *CommandRegistry) Count() int {
	return r.count
}

// Dispatch calls the handler for code. Unknown codes are ignored and
// reported as false.
func (r *CommandRegistry) Dispatch(code byte) bool {
	cmd := r.commands[code]
	if cmd == nil {
		return false
	}
	if cmd.Handler != nil {
		cmd.Handler()
	}
	return true
}

// Describe lists the registered commands, one "0xNN name" per line.
func (r *CommandRegistry) Describe() string {
	dict := ""
	for code := 0; code < len(r.commands); code++ {
		if cmd := r.commands[code]; cmd != nil {
			dict += hex8(cmd.Code) + " " + cmd.Name + "\n"
		}
	}
	return dict
}
