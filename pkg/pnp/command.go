// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package pnp

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/xeipuuv/gojsonschema"
)

// ErrDuplicateCommand is returned when a command name is registered twice.
var ErrDuplicateCommand = errors.New("pnp: command already registered")

// CommandHandler executes a command. A nil response is replaced with an
// empty JSON object.
type CommandHandler func(payload []byte) (status int, response []byte)

// Command describes a single command. Schema, when set, is a JSON schema
// the payload must satisfy before Handler is called.
type Command struct {
	Name    string
	Schema  string
	Handler CommandHandler
}

type command struct {
	schema  *gojsonschema.Schema
	handler CommandHandler
}

// CommandSet dispatches commands by name for one component.
type CommandSet struct {
	mu       sync.RWMutex
	commands map[string]command
	logger   *slog.Logger
}

// NewCommandSet returns an empty set. A nil logger uses slog.Default().
func NewCommandSet(logger *slog.Logger) *CommandSet {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSet{
		commands: make(map[string]command),
		logger:   logger,
	}
}

// Register compiles the command schema and adds the command.
func (s *CommandSet) Register(cmd Command) error {
	if cmd.Name == "" || cmd.Handler == nil {
		return fmt.Errorf("%w: command requires a name and handler", ErrInvalidName)
	}

	var schema *gojsonschema.Schema
	if cmd.Schema != "" {
		sl := gojsonschema.NewSchemaLoader()
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(cmd.Schema))
		if err != nil {
			return fmt.Errorf("pnp: compile schema for %s: %w", cmd.Name, err)
		}
		schema = compiled
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[cmd.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, cmd.Name)
	}
	s.commands[cmd.Name] = command{schema: schema, handler: cmd.Handler}
	return nil
}

// Has reports whether name is registered.
func (s *CommandSet) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.commands[name]
	return ok
}

// Dispatch runs the named command. Unknown commands return 404, payloads
// that are not JSON return 500 and payloads rejected by the command schema
// return 400.
func (s *CommandSet) Dispatch(name string, payload []byte) (int, []byte) {
	s.mu.RLock()
	cmd, ok := s.commands[name]
	s.mu.RUnlock()
	if !ok {
		s.logger.Warn("command not supported", "command", name)
		return StatusNotFound, EmptyResponse()
	}

	if !json.Valid(payload) {
		s.logger.Error("unable to parse command payload", "command", name)
		return StatusInternalError, EmptyResponse()
	}

	if cmd.schema != nil {
		result, err := cmd.schema.Validate(gojsonschema.NewBytesLoader(payload))
		if err != nil {
			s.logger.Error("command payload validation failed", "command", name, "error", err)
			return StatusBadFormat, EmptyResponse()
		}
		if !result.Valid() {
			msgs := make([]string, 0, len(result.Errors()))
			for _, e := range result.Errors() {
				msgs = append(msgs, e.String())
			}
			s.logger.Warn("invalid command payload", "command", name, "errors", strings.Join(msgs, "; "))
			return StatusBadFormat, EmptyResponse()
		}
	}

	status, response := cmd.handler(payload)
	if response == nil {
		response = EmptyResponse()
	}
	return status, response
}
