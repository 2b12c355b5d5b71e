package ipc

import (
	"context"
	"fmt"
)

// CommandHandler executes one Command/Intercept/PluginService request
// and returns its Result, or an APIError for an unsupported or invalid
// command. Modes differ only in which commands they accept, so a
// single handler type backs Command, Intercept, and PluginService
// (spec.md §9 "a uniform process(connection) operation").
type CommandHandler func(ctx context.Context, command string, args interface{}) (interface{}, *APIError)

// modeCommands is each envelope-driven mode's supported command set
// (spec.md §4.6 "Permissions are checked against the command set
// supported by each mode"). PluginService and Intercept are narrower
// slices of Command's surface in a real DSF-class daemon; sbcd doesn't
// define the full command catalogue, so these are left for the caller
// to populate through EnvelopeProcessor.Allowed (see AllowedCommands).
type modeCommands map[string]bool

// EnvelopeProcessor drives one Command/Intercept/PluginService
// connection's request/reply loop over JSON envelopes (spec.md §6 "IPC
// endpoint"). Framing is left to Recv and Send; the ones cmd/sbcd
// supplies read and write a plain JSON document stream with no length
// prefix.
type EnvelopeProcessor struct {
	Mode    Mode
	Allowed modeCommands
	Handle  CommandHandler

	Recv func() (Envelope, error)
	Send func(Reply) error
}

// AllowedCommands builds a modeCommands set from a list of names.
func AllowedCommands(names ...string) modeCommands {
	m := make(modeCommands, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// Run drives the envelope request/reply loop until Recv returns an
// error (typically io.EOF on peer close).
func (p *EnvelopeProcessor) Run(ctx context.Context) error {
	for {
		env, err := p.Recv()
		if err != nil {
			return err
		}

		if len(p.Allowed) > 0 && !p.Allowed[env.Command] {
			_ = p.Send(Reply{Success: false, Error: &APIError{
				Type:    "PermissionDenied",
				Message: fmt.Sprintf("%s command %q not permitted in %s mode", env.Command, env.Command, p.Mode),
			}})
			continue
		}

		result, apiErr := p.Handle(ctx, env.Command, env.Args)
		if apiErr != nil {
			if err := p.Send(Reply{Success: false, Error: apiErr}); err != nil {
				return err
			}
			continue
		}
		if err := p.Send(Reply{Success: true, Result: result}); err != nil {
			return err
		}
	}
}

// CodeStreamProcessor drives a CodeStream connection: the client
// submits plain gcode lines and receives their completion text, a
// narrower cousin of Command mode that skips the envelope wrapper
// (spec.md §4.6 dispatches on mode; CodeStream's own framing is left
// to the submit hook here rather than duplicating Command's JSON
// shape).
type CodeStreamProcessor struct {
	Submit func(ctx context.Context, line string) (reply string, err error)
	Recv   func() (string, error)
	Send   func(string) error
}

// Run drives the submit/reply loop until Recv returns an error.
func (p *CodeStreamProcessor) Run(ctx context.Context) error {
	for {
		line, err := p.Recv()
		if err != nil {
			return err
		}
		reply, err := p.Submit(ctx, line)
		if err != nil {
			reply = err.Error()
		}
		if err := p.Send(reply); err != nil {
			return err
		}
	}
}
