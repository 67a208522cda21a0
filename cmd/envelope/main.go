// Package main provides the envelope CLI for inspecting pipeline messages.
//
// The CLI reads JSON from stdin, performs one operation and writes a JSON
// result to stdout. It is meant for debugging bus traffic and model output
// without running the service.
//
// Usage:
//
//	# Check a bus message decodes
//	cat envelope.json | envelope validate
//
//	# Show which stage would consume a bus message
//	cat envelope.json | envelope route
//
//	# Convert an inbound request body into envelopes
//	cat leads.json | envelope batch ingestion
//
//	# Pull the JSON object out of raw model text
//	cat reply.txt | envelope extract greedy
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jeeves-cluster-organization/leadflow/coreengine/envelope"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/extract"
	"github.com/jeeves-cluster-organization/leadflow/coreengine/runtime"
)

const (
	cmdValidate = "validate"
	cmdRoute    = "route"
	cmdBatch    = "batch"
	cmdExtract  = "extract"
	cmdVersion  = "version"
)

// Version information
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run executes one command and returns the process exit code.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	c := &cli{in: stdin, out: stdout, errOut: stderr}
	switch args[0] {
	case cmdVersion:
		return c.handleVersion()
	case cmdValidate:
		return c.handleValidate()
	case cmdRoute:
		return c.handleRoute()
	case cmdBatch:
		return c.handleBatch(args[1:])
	case cmdExtract:
		return c.handleExtract(args[1:])
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: envelope <command> [argument]

Commands:
  validate        Check that a bus message decodes into an envelope
  route           Print the stage that would consume a bus message
  batch <stage>   Decode an inbound request body addressed to stage
  extract [mode]  Extract the JSON object from model text (balanced or greedy)
  version         Print version information

Input/Output:
  All commands read from stdin and write JSON to stdout.
  Failures are written as {"error":true,"code":...,"message":...}.

Examples:
  cat envelope.json | envelope route
  cat leads.json | envelope batch ingestion
  cat reply.txt | envelope extract`)
}

type cli struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// handleVersion prints version information.
func (c *cli) handleVersion() int {
	return c.writeJSON(map[string]string{
		"version":    Version,
		"build_time": BuildTime,
	})
}

// handleValidate reports whether stdin holds a decodable bus message.
func (c *cli) handleValidate() int {
	input, err := c.readInput()
	if err != nil {
		return c.writeError("read_error", err.Error())
	}

	env, err := envelope.Decode(input)
	if err != nil {
		c.writeJSON(map[string]any{
			"valid":  false,
			"errors": []string{err.Error()},
		})
		return 0
	}
	return c.writeJSON(map[string]any{
		"valid":        true,
		"errors":       []string{},
		"envelope_id":  env.EnvelopeID,
		"stage_origin": env.StageOrigin,
	})
}

// handleRoute prints the consuming stage of a bus message.
func (c *cli) handleRoute() int {
	input, err := c.readInput()
	if err != nil {
		return c.writeError("read_error", err.Error())
	}

	env, err := envelope.Decode(input)
	if err != nil {
		return c.writeError("parse_error", err.Error())
	}
	next, err := runtime.NextStage(env)
	if err != nil {
		return c.writeError("unroutable", err.Error())
	}
	return c.writeJSON(map[string]any{
		"envelope_id":  env.EnvelopeID,
		"stage_origin": env.StageOrigin,
		"next_stage":   next,
		"terminal":     next == envelope.StageNone,
	})
}

// handleBatch decodes an inbound stage request body.
func (c *cli) handleBatch(args []string) int {
	if len(args) < 1 {
		return c.writeError("usage", "batch requires a stage argument")
	}
	stage, err := envelope.ParseStage(args[0])
	if err != nil {
		return c.writeError("usage", err.Error())
	}

	input, err := c.readInput()
	if err != nil {
		return c.writeError("read_error", err.Error())
	}
	envs, err := envelope.DecodeBatch(input, stage)
	if err != nil {
		return c.writeError("parse_error", err.Error())
	}
	return c.writeJSON(map[string]any{
		"stage":     stage,
		"count":     len(envs),
		"envelopes": envs,
	})
}

// handleExtract pulls the JSON object out of raw model text.
func (c *cli) handleExtract(args []string) int {
	mode := extract.ModeBalanced
	if len(args) > 0 {
		m, err := extract.ParseMode(args[0])
		if err != nil {
			return c.writeError("usage", err.Error())
		}
		mode = m
	}

	input, err := c.readInput()
	if err != nil {
		return c.writeError("read_error", err.Error())
	}
	obj, err := extract.New(mode).Extract(string(input))
	if err != nil {
		code := "parse_error"
		if errors.Is(err, extract.ErrNotFound) {
			code = "not_found"
		}
		return c.writeError(code, err.Error())
	}
	return c.writeJSON(obj)
}

// readInput reads all of stdin.
func (c *cli) readInput() ([]byte, error) {
	return io.ReadAll(bufio.NewReader(c.in))
}

// writeJSON writes a JSON object to stdout.
func (c *cli) writeJSON(v any) int {
	if err := json.NewEncoder(c.out).Encode(v); err != nil {
		fmt.Fprintf(c.errOut, "Error encoding JSON: %s\n", err.Error())
		return 1
	}
	return 0
}

// writeError writes an error response to stdout and returns exit code 1.
func (c *cli) writeError(code, message string) int {
	c.writeJSON(map[string]any{
		"error":   true,
		"code":    code,
		"message": message,
	})
	return 1
}
