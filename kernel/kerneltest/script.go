// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kerneltest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/thyone-project/thyone/transport"
	"github.com/thyone-project/thyone/wire"
)

// execute interprets one submission line by line. The first failing
// line broadcasts a runtime error and aborts the rest; everything the
// script emits is parented to the originating request.
func (k *Kernel) execute(conn *transport.Conn, parent wire.Message, req wire.ExecuteRequest, interrupt <-chan struct{}, inputs <-chan wire.Message) wire.ExecuteReply {
	// An interrupt delivered before this execution started does not
	// apply to it.
	select {
	case <-interrupt:
	default:
	}

	var count int
	if !req.Silent {
		k.mu.Lock()
		k.count++
		count = k.count
		if req.StoreHistory {
			k.history = append(k.history, wire.HistoryItem{Session: 1, Line: count, Source: req.Code})
		}
		k.mu.Unlock()

		k.send(conn, transport.ChannelIOPub, wire.NewReply(parent, wire.ExecuteInput{
			Code:           req.Code,
			ExecutionCount: count,
		}))
	}

	for _, line := range strings.Split(req.Code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		failure := k.runLine(conn, parent, req, line, count, interrupt, inputs)
		if failure == nil {
			continue
		}
		k.send(conn, transport.ChannelIOPub, wire.NewReply(parent, *failure))
		return wire.ExecuteReply{
			Status:         wire.StatusError,
			ExecutionCount: count,
			ErrorName:      failure.Name,
			ErrorValue:     failure.Value,
			Traceback:      failure.Traceback,
		}
	}
	return wire.ExecuteReply{Status: wire.StatusOK, ExecutionCount: count}
}

// runLine executes a single directive. A nil return means the line
// succeeded; otherwise the returned error fails the whole execution.
func (k *Kernel) runLine(conn *transport.Conn, parent wire.Message, req wire.ExecuteRequest, line string, count int, interrupt <-chan struct{}, inputs <-chan wire.Message) *wire.RuntimeError {
	broadcast := func(content wire.Content) {
		k.send(conn, transport.ChannelIOPub, wire.NewReply(parent, content))
	}

	verb, arg, _ := strings.Cut(line, ":")
	switch verb {
	case "print":
		broadcast(wire.Stream{Name: "stdout", Text: arg + "\n"})
		return nil

	case "stderr":
		broadcast(wire.Stream{Name: "stderr", Text: arg + "\n"})
		return nil

	case "result":
		broadcast(wire.ExecuteResult{
			ExecutionCount: count,
			Data:           wire.MIMEBundle{"text/plain": arg},
		})
		return nil

	case "display":
		broadcast(wire.DisplayData{Data: wire.MIMEBundle{"text/plain": arg}})
		return nil

	case "rich":
		mime, data, ok := strings.Cut(arg, ":")
		if !ok || mime == "" {
			return scriptError(line, "ValueError", "rich needs MIME:data")
		}
		broadcast(wire.DisplayData{Data: wire.MIMEBundle{mime: data}})
		return nil

	case "clear":
		broadcast(wire.ClearOutput{Wait: arg == "wait"})
		return nil

	case "error":
		name, value, _ := strings.Cut(arg, ":")
		if name == "" {
			name = "Exception"
		}
		return scriptError(line, name, value)

	case "sleep":
		d, err := time.ParseDuration(arg)
		if err != nil {
			return scriptError(line, "ValueError", fmt.Sprintf("invalid duration %q", arg))
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-interrupt:
			return scriptError(line, "KeyboardInterrupt", "execution interrupted")
		}

	case "input":
		if !req.AllowStdin {
			return scriptError(line, "StdinNotImplementedError", "stdin is not allowed in this request")
		}
		k.send(conn, transport.ChannelStdin, wire.NewReply(parent, wire.InputRequest{Prompt: arg}))
		timer := time.NewTimer(k.opts.InputTimeout)
		defer timer.Stop()
		select {
		case reply := <-inputs:
			if content, ok := reply.Content.(wire.InputReply); ok {
				broadcast(wire.Stream{Name: "stdout", Text: content.Value + "\n"})
			}
			return nil
		case <-interrupt:
			return scriptError(line, "KeyboardInterrupt", "execution interrupted")
		case <-timer.C:
			return scriptError(line, "TimeoutError", "no reply on the stdin channel")
		}

	case "comm_open":
		broadcast(wire.CommOpen{
			CommID: wire.NewID(),
			Target: arg,
			Data:   map[string]any{"origin": "kernel"},
		})
		return nil
	}

	if text, failure, ok := evalArithmetic(line); ok {
		if failure != nil {
			return failure
		}
		broadcast(wire.ExecuteResult{
			ExecutionCount: count,
			Data:           wire.MIMEBundle{"text/plain": text},
		})
	}
	// Lines that are neither directives nor arithmetic are accepted
	// without output, like a statement with no value.
	return nil
}

func scriptError(line, name, value string) *wire.RuntimeError {
	return &wire.RuntimeError{
		Name:      name,
		Value:     value,
		Traceback: []string{"  " + line, name + ": " + value},
	}
}

// evalArithmetic evaluates lines of the shape "a OP b" over integers,
// for OP in + - * / %. ok reports whether the line had that shape at
// all; a division by zero is a shaped line that fails.
func evalArithmetic(line string) (text string, failure *wire.RuntimeError, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", nil, false
	}
	a, errA := strconv.ParseInt(fields[0], 10, 64)
	b, errB := strconv.ParseInt(fields[2], 10, 64)
	if errA != nil || errB != nil {
		return "", nil, false
	}

	var v int64
	switch fields[1] {
	case "+":
		v = a + b
	case "-":
		v = a - b
	case "*":
		v = a * b
	case "/":
		if b == 0 {
			return "", scriptError(line, "ZeroDivisionError", "division by zero"), true
		}
		v = a / b
	case "%":
		if b == 0 {
			return "", scriptError(line, "ZeroDivisionError", "integer modulo by zero"), true
		}
		v = a % b
	default:
		return "", nil, false
	}
	return strconv.FormatInt(v, 10), nil, true
}

// scriptVerbs is the directive vocabulary, ordered for completion.
var scriptVerbs = []string{
	"clear",
	"comm_open:",
	"display:",
	"error:",
	"input:",
	"print:",
	"result:",
	"rich:",
	"sleep:",
	"stderr:",
}

var verbDocs = map[string]string{
	"print":     "print:TEXT writes TEXT and a newline to stdout.",
	"stderr":    "stderr:TEXT writes TEXT and a newline to stderr.",
	"result":    "result:TEXT publishes TEXT as the execution's result value.",
	"display":   "display:TEXT publishes TEXT as display data.",
	"rich":      "rich:MIME:DATA publishes DATA under the given MIME type.",
	"clear":     "clear erases accumulated output; clear:wait defers until the next output.",
	"error":     "error:NAME:VALUE fails the execution with the named error.",
	"sleep":     "sleep:DURATION pauses for a Go duration; an interrupt aborts it.",
	"input":     "input:PROMPT requests a line on the stdin channel and echoes it.",
	"comm_open": "comm_open:TARGET opens a kernel-side comm against a client target.",
}

// completeScript offers directive completions for the token under the
// cursor. An empty token matches the whole vocabulary.
func completeScript(req wire.CompleteRequest) wire.CompleteReply {
	code, pos := req.Code, req.CursorPos
	if pos < 0 || pos > len(code) {
		pos = len(code)
	}
	start := pos
	for start > 0 && code[start-1] != '\n' && code[start-1] != ' ' {
		start--
	}
	prefix := code[start:pos]

	var matches []string
	for _, v := range scriptVerbs {
		if strings.HasPrefix(v, prefix) {
			matches = append(matches, v)
		}
	}
	return wire.CompleteReply{
		Status:      wire.StatusOK,
		Matches:     matches,
		CursorStart: start,
		CursorEnd:   pos,
	}
}

// inspectScript documents the directive under the cursor.
func inspectScript(req wire.InspectRequest) wire.InspectReply {
	code, pos := req.Code, req.CursorPos
	if pos < 0 || pos > len(code) {
		pos = len(code)
	}
	start := pos
	for start > 0 && code[start-1] != '\n' && code[start-1] != ' ' {
		start--
	}
	end := pos
	for end < len(code) && code[end] != '\n' && code[end] != ' ' {
		end++
	}
	verb, _, _ := strings.Cut(code[start:end], ":")

	doc, found := verbDocs[verb]
	if !found {
		return wire.InspectReply{Status: wire.StatusOK, Found: false}
	}
	return wire.InspectReply{
		Status: wire.StatusOK,
		Found:  true,
		Data:   wire.MIMEBundle{"text/plain": doc},
	}
}

// isCompleteScript treats a trailing backslash as a continuation and a
// trailing colon as a directive still waiting for its argument.
func isCompleteScript(req wire.IsCompleteRequest) wire.IsCompleteReply {
	trimmed := strings.TrimRight(req.Code, " \t\n")
	switch {
	case trimmed == "":
		return wire.IsCompleteReply{Status: wire.CodeComplete}
	case strings.HasSuffix(trimmed, "\\"):
		return wire.IsCompleteReply{Status: wire.CodeIncomplete, Indent: "  "}
	case strings.HasSuffix(trimmed, ":"):
		return wire.IsCompleteReply{Status: wire.CodeIncomplete}
	default:
		return wire.IsCompleteReply{Status: wire.CodeComplete}
	}
}
