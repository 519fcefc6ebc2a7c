// Package message defines the invocation records exchanged between processes.
//
// A Record is one remote call: a command, the target object's ID, a method name and an
// ordered list of tagged argument values. Records are grouped into streams (see package stream),
// serialized by the codec layer and wrapped in a protocol frame for transmission over TCP.
package message

import (
	"fmt"
	"strconv"
	"strings"
)

// ID is an opaque object handle shared by every process of a deployment.
type ID uint32

// Well-known IDs. They are assigned once at interpreter initialization and never
// handed out by the allocator.
const (
	NullID          ID = 0
	ApplicationID   ID = 1
	ProcessModuleID ID = 2
	LastReservedID  ID = 3
)

// Command is the kind of a record.
type Command byte

const (
	Invoke Command = 0 // call Method on Target with Args
	New    Command = 1 // create an instance of class Method at ID Target
	Delete Command = 2 // drop the object at Target
	Assign Command = 3 // bind Args[0] to Target
	Reply  Command = 4 // result values of the last call
	Error  Command = 5 // Args[0] is the error message
)

func (c Command) String() string {
	switch c {
	case Invoke:
		return "Invoke"
	case New:
		return "New"
	case Delete:
		return "Delete"
	case Assign:
		return "Assign"
	case Reply:
		return "Reply"
	case Error:
		return "Error"
	default:
		return "Command(" + strconv.Itoa(int(c)) + ")"
	}
}

// Valid reports whether c is a known command.
func (c Command) Valid() bool {
	return c <= Error
}

// Record carries a single invocation, or a result produced by an interpreter.
//
//   - Invoke: Target and Method are set, Args are the call arguments.
//   - New:    Method holds the class name, Target the ID to create.
//   - Reply:  Args hold the returned values.
//   - Error:  Args[0] is a string value with the message.
type Record struct {
	Command Command `json:"command"`
	Target  ID      `json:"target,omitempty"`
	Method  string  `json:"method,omitempty"`
	Args    []Value `json:"args,omitempty"`
}

// String renders the record the way it is replayed in diagnostics,
// e.g. `Invoke id=5 Foo(int 3, string "x")`.
func (r Record) String() string {
	var b strings.Builder
	b.WriteString(r.Command.String())
	if r.Target != NullID {
		fmt.Fprintf(&b, " id=%d", r.Target)
	}
	if r.Method != "" {
		b.WriteString(" ")
		b.WriteString(r.Method)
	}
	b.WriteString("(")
	for i, arg := range r.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(arg.String())
	}
	b.WriteString(")")
	return b.String()
}

// ErrorMessage returns the message of an Error record.
func (r Record) ErrorMessage() (string, bool) {
	if r.Command != Error || len(r.Args) == 0 || r.Args[0].Kind != KindString {
		return "", false
	}
	return r.Args[0].Str, true
}
