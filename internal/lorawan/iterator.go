package lorawan

import (
	"github.com/pkg/errors"
)

// command decoding errors
var (
	ErrUnknownCommand   = errors.New("lorawan: unknown command")
	ErrTruncatedCommand = errors.New("lorawan: truncated command")
)

// remainder marks a command payload that consumes the rest of the buffer.
const remainder = -1

type commandSpec struct {
	size    int
	sizeFn  func(rest []byte) int
	payload func() Payload
}

// CommandSet defines the commands (and their payload sizes) that can be
// decoded from a command stream in a given direction.
type CommandSet struct {
	name string
	cmds map[CID]commandSpec
}

// Name returns the name of the command set.
func (s CommandSet) Name() string {
	return s.name
}

// CommandIterator lazily decodes a command stream. Decoding stops at the
// first unknown or truncated command. The commands decoded before that
// point remain valid.
//
//	it := NewCommandIterator(MACCommandSet, b)
//	for it.Next() {
//		cmd := it.Command()
//	}
//	if err := it.Err(); err != nil {
//	}
type CommandIterator struct {
	set  CommandSet
	data []byte
	pos  int
	cmd  MACCommand
	err  error
}

// NewCommandIterator creates a new iterator over the given bytes.
func NewCommandIterator(set CommandSet, data []byte) *CommandIterator {
	return &CommandIterator{
		set:  set,
		data: data,
	}
}

// Next decodes the next command. It returns false at the end of the
// stream or on the first decoding error.
func (it *CommandIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.data) {
		return false
	}

	cid := CID(it.data[it.pos])
	def, ok := it.set.cmds[cid]
	if !ok {
		it.err = errors.Wrapf(ErrUnknownCommand, "%s cid: %d", it.set.name, cid)
		return false
	}

	rest := it.data[it.pos+1:]
	size := def.size
	if def.sizeFn != nil {
		size = def.sizeFn(rest)
	}
	if size == remainder {
		size = len(rest)
	}
	if size < 0 || size > len(rest) {
		it.err = errors.Wrapf(ErrTruncatedCommand, "%s cid: %d", it.set.name, cid)
		return false
	}

	cmd := MACCommand{CID: cid}
	if def.payload != nil {
		cmd.Payload = def.payload()
		if err := cmd.Payload.UnmarshalBinary(rest[:size]); err != nil {
			it.err = errors.Wrapf(err, "%s cid: %d", it.set.name, cid)
			return false
		}
	}

	it.cmd = cmd
	it.pos += 1 + size
	return true
}

// Command returns the command decoded by the last call to Next.
func (it *CommandIterator) Command() MACCommand {
	return it.cmd
}

// Err returns the decoding error, if any.
func (it *CommandIterator) Err() error {
	return it.err
}

// Reset restarts the iteration from the first command.
func (it *CommandIterator) Reset() {
	it.pos = 0
	it.err = nil
	it.cmd = MACCommand{}
}

// Commands restarts the iteration and returns all commands of the stream.
// On error, the commands decoded before the error are returned together
// with the error.
func (it *CommandIterator) Commands() ([]MACCommand, error) {
	it.Reset()

	var out []MACCommand
	for it.Next() {
		out = append(out, it.Command())
	}
	return out, it.Err()
}

// DecodeCommands decodes all commands of the given stream.
func DecodeCommands(set CommandSet, data []byte) ([]MACCommand, error) {
	return NewCommandIterator(set, data).Commands()
}
