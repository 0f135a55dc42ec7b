// internal/cache/command.go
// Command channel between the application and the gateway: a closed set
// of command kinds with an explicit dispatch table, so a new command is a
// compile-time addition rather than a string falling through to a silent
// default branch.
package cache

import (
	"context"
	"fmt"
	"time"
)

// CommandKind enumerates the commands the gateway accepts.
type CommandKind string

const (
	// CommandSkipWaiting activates the waiting version immediately.
	CommandSkipWaiting CommandKind = "skip_waiting"
	// CommandGetVersion reports the active version tag.
	CommandGetVersion CommandKind = "get_version"
	// CommandClearCache purges every bucket.
	CommandClearCache CommandKind = "clear_cache"
)

// Command is one instruction sent over the command channel.
type Command struct {
	Kind CommandKind `json:"kind"`
}

// CommandReply is the single reply to a command.
type CommandReply struct {
	Success   bool      `json:"success"`
	Version   string    `json:"version,omitempty"` // Set for get_version
	Timestamp time.Time `json:"timestamp"`
}

// Commander dispatches commands to a gateway.
type Commander struct {
	gw    *Gateway
	table map[CommandKind]func(ctx context.Context) (CommandReply, error)
}

// NewCommander builds the dispatch table for a gateway.
func NewCommander(gw *Gateway) *Commander {
	c := &Commander{gw: gw}
	c.table = map[CommandKind]func(ctx context.Context) (CommandReply, error){
		CommandSkipWaiting: c.skipWaiting,
		CommandGetVersion:  c.getVersion,
		CommandClearCache:  c.clearCache,
	}
	return c
}

// Dispatch executes one command and returns its reply.
// Unknown kinds are rejected explicitly.
func (c *Commander) Dispatch(ctx context.Context, cmd Command) (CommandReply, error) {
	handler, known := c.table[cmd.Kind]
	if !known {
		return CommandReply{}, fmt.Errorf("unknown cache command %q", cmd.Kind)
	}
	return handler(ctx)
}

func (c *Commander) skipWaiting(ctx context.Context) (CommandReply, error) {
	if err := c.gw.Activate(ctx); err != nil {
		return CommandReply{}, err
	}
	return CommandReply{Success: true, Timestamp: time.Now().UTC()}, nil
}

func (c *Commander) getVersion(ctx context.Context) (CommandReply, error) {
	return CommandReply{
		Success:   true,
		Version:   c.gw.Version(),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (c *Commander) clearCache(ctx context.Context) (CommandReply, error) {
	if err := c.gw.ClearAll(ctx); err != nil {
		return CommandReply{}, err
	}
	return CommandReply{Success: true, Timestamp: time.Now().UTC()}, nil
}
