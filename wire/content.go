// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package wire

// ReplyStatus is the outcome field carried by every reply type.
type ReplyStatus string

const (
	// StatusOK indicates the request completed normally.
	StatusOK ReplyStatus = "ok"
	// StatusError indicates the request raised an error in the kernel.
	StatusError ReplyStatus = "error"
	// StatusAborted indicates the kernel discarded the request without
	// running it, typically because an earlier request errored with
	// stop-on-error set or the kernel was interrupted.
	StatusAborted ReplyStatus = "aborted"
)

// ExecutionState is the kernel-reported state in a status broadcast.
type ExecutionState string

const (
	StateStarting ExecutionState = "starting"
	StateIdle     ExecutionState = "idle"
	StateBusy     ExecutionState = "busy"
)

// MIMEBundle maps MIME types to alternative representations of one
// display value. Values are strings for text-like types and arbitrary
// JSON-shaped data otherwise.
type MIMEBundle map[string]any

// Text returns the representation for the given MIME type if it is
// present and is a string.
func (b MIMEBundle) Text(mimeType string) (string, bool) {
	value, ok := b[mimeType]
	if !ok {
		return "", false
	}
	text, ok := value.(string)
	return text, ok
}

// ExecuteRequest asks the kernel to evaluate source code.
type ExecuteRequest struct {
	Code string `json:"code"`
	// Silent suppresses broadcast output and history recording.
	Silent bool `json:"silent,omitempty"`
	// StoreHistory asks the kernel to record the code in its own
	// history and to increment the execution counter.
	StoreHistory bool `json:"store_history,omitempty"`
	// AllowStdin permits the kernel to issue input_request prompts
	// while this request is running.
	AllowStdin bool `json:"allow_stdin,omitempty"`
	// StopOnError makes the kernel abort queued requests after an
	// error in this one.
	StopOnError bool `json:"stop_on_error,omitempty"`
}

func (ExecuteRequest) messageType() MessageType { return TypeExecuteRequest }

// ExecuteReply is the terminal reply to an ExecuteRequest.
type ExecuteReply struct {
	Status         ReplyStatus `json:"status"`
	ExecutionCount int         `json:"execution_count"`
	// Error details, populated when Status is StatusError.
	ErrorName  string   `json:"ename,omitempty"`
	ErrorValue string   `json:"evalue,omitempty"`
	Traceback  []string `json:"traceback,omitempty"`
}

func (ExecuteReply) messageType() MessageType { return TypeExecuteReply }

// ExecuteInput is the broadcast echo of code the kernel has accepted
// for execution, carrying the assigned execution counter.
type ExecuteInput struct {
	Code           string `json:"code"`
	ExecutionCount int    `json:"execution_count"`
}

func (ExecuteInput) messageType() MessageType { return TypeExecuteInput }

// ExecuteResult is the broadcast value produced by an execution, as a
// MIME bundle with the assigned execution counter.
type ExecuteResult struct {
	ExecutionCount int        `json:"execution_count"`
	Data           MIMEBundle `json:"data"`
	Metadata       MIMEBundle `json:"metadata,omitempty"`
}

func (ExecuteResult) messageType() MessageType { return TypeExecuteResult }

// Status is the kernel state broadcast emitted around every request
// and once at startup.
type Status struct {
	State ExecutionState `json:"execution_state"`
}

func (Status) messageType() MessageType { return TypeStatus }

// Stream is a chunk of kernel stdout or stderr.
type Stream struct {
	// Name is "stdout" or "stderr".
	Name string `json:"name"`
	Text string `json:"text"`
}

func (Stream) messageType() MessageType { return TypeStream }

// DisplayData is rich display output. When DisplayID is set, later
// UpdateDisplayData messages with the same ID replace this output
// in place.
type DisplayData struct {
	Data      MIMEBundle `json:"data"`
	Metadata  MIMEBundle `json:"metadata,omitempty"`
	DisplayID string     `json:"display_id,omitempty"`
}

func (DisplayData) messageType() MessageType { return TypeDisplayData }

// UpdateDisplayData replaces a previously displayed value identified
// by DisplayID.
type UpdateDisplayData struct {
	Data      MIMEBundle `json:"data"`
	Metadata  MIMEBundle `json:"metadata,omitempty"`
	DisplayID string     `json:"display_id"`
}

func (UpdateDisplayData) messageType() MessageType { return TypeUpdateDisplayData }

// RuntimeError is the broadcast form of an error raised during
// execution. The same fields appear inline on the ExecuteReply.
type RuntimeError struct {
	Name      string   `json:"ename"`
	Value     string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

func (RuntimeError) messageType() MessageType { return TypeError }

// ClearOutput asks the client to clear accumulated output for the
// current request. With Wait set, clearing is deferred until the next
// output arrives, which avoids flicker in redraw loops.
type ClearOutput struct {
	Wait bool `json:"wait,omitempty"`
}

func (ClearOutput) messageType() MessageType { return TypeClearOutput }

// CommOpen establishes a comm: a named bidirectional sub-channel
// multiplexed over the session. Either side may open one.
type CommOpen struct {
	CommID string `json:"comm_id"`
	// Target names the sub-protocol; the receiving side looks it up
	// in its comm target registry.
	Target string         `json:"target_name"`
	Data   map[string]any `json:"data,omitempty"`
}

func (CommOpen) messageType() MessageType { return TypeCommOpen }

// CommMsg carries a state delta for an open comm.
type CommMsg struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data,omitempty"`
}

func (CommMsg) messageType() MessageType { return TypeCommMsg }

// CommClose tears down a comm. Data optionally carries a reason.
type CommClose struct {
	CommID string         `json:"comm_id"`
	Data   map[string]any `json:"data,omitempty"`
}

func (CommClose) messageType() MessageType { return TypeCommClose }

// KernelInfoRequest asks the kernel to describe itself.
type KernelInfoRequest struct{}

func (KernelInfoRequest) messageType() MessageType { return TypeKernelInfoRequest }

// LanguageInfo describes the language a kernel evaluates.
type LanguageInfo struct {
	Name          string `json:"name"`
	Version       string `json:"version,omitempty"`
	MIMEType      string `json:"mimetype,omitempty"`
	FileExtension string `json:"file_extension,omitempty"`
}

// KernelInfoReply is the kernel's self-description. Receiving it is
// part of the startup handshake.
type KernelInfoReply struct {
	Status                ReplyStatus  `json:"status"`
	ProtocolVersion       string       `json:"protocol_version"`
	Implementation        string       `json:"implementation"`
	ImplementationVersion string       `json:"implementation_version,omitempty"`
	Language              LanguageInfo `json:"language_info"`
	Banner                string       `json:"banner,omitempty"`
}

func (KernelInfoReply) messageType() MessageType { return TypeKernelInfoReply }

// CompleteRequest asks for completion candidates at a cursor position.
type CompleteRequest struct {
	Code      string `json:"code"`
	CursorPos int    `json:"cursor_pos"`
}

func (CompleteRequest) messageType() MessageType { return TypeCompleteRequest }

// CompleteReply lists completion matches and the source span they
// replace.
type CompleteReply struct {
	Status      ReplyStatus `json:"status"`
	Matches     []string    `json:"matches"`
	CursorStart int         `json:"cursor_start"`
	CursorEnd   int         `json:"cursor_end"`
}

func (CompleteReply) messageType() MessageType { return TypeCompleteReply }

// InspectRequest asks for documentation about the object at a cursor
// position. DetailLevel 0 is a summary, 1 includes source when the
// kernel has it.
type InspectRequest struct {
	Code        string `json:"code"`
	CursorPos   int    `json:"cursor_pos"`
	DetailLevel int    `json:"detail_level,omitempty"`
}

func (InspectRequest) messageType() MessageType { return TypeInspectRequest }

// InspectReply carries documentation as a MIME bundle when found.
type InspectReply struct {
	Status ReplyStatus `json:"status"`
	Found  bool        `json:"found"`
	Data   MIMEBundle  `json:"data,omitempty"`
}

func (InspectReply) messageType() MessageType { return TypeInspectReply }

// HistoryRequest asks for the tail of the kernel's input history,
// optionally filtered by a glob pattern.
type HistoryRequest struct {
	Tail    int    `json:"tail"`
	Pattern string `json:"pattern,omitempty"`
}

func (HistoryRequest) messageType() MessageType { return TypeHistoryRequest }

// HistoryItem is one remembered input line.
type HistoryItem struct {
	Session int    `json:"session"`
	Line    int    `json:"line"`
	Source  string `json:"source"`
}

// HistoryReply lists history items, oldest first.
type HistoryReply struct {
	Status ReplyStatus   `json:"status"`
	Items  []HistoryItem `json:"items,omitempty"`
}

func (HistoryReply) messageType() MessageType { return TypeHistoryReply }

// Completeness classifies whether source code forms a complete unit
// of execution.
type Completeness string

const (
	CodeComplete   Completeness = "complete"
	CodeIncomplete Completeness = "incomplete"
	CodeInvalid    Completeness = "invalid"
	CodeUnknown    Completeness = "unknown"
)

// IsCompleteRequest asks whether code is ready to execute. Consoles
// use it to choose between submitting and opening a continuation line.
type IsCompleteRequest struct {
	Code string `json:"code"`
}

func (IsCompleteRequest) messageType() MessageType { return TypeIsCompleteRequest }

// IsCompleteReply carries the completeness verdict. Indent is the
// suggested indentation for the continuation line when the verdict is
// CodeIncomplete.
type IsCompleteReply struct {
	Status Completeness `json:"status"`
	Indent string       `json:"indent,omitempty"`
}

func (IsCompleteReply) messageType() MessageType { return TypeIsCompleteReply }

// InputRequest is a kernel-initiated prompt for a line of user input.
// Only sent while a request with AllowStdin is in flight.
type InputRequest struct {
	Prompt   string `json:"prompt"`
	Password bool   `json:"password,omitempty"`
}

func (InputRequest) messageType() MessageType { return TypeInputRequest }

// InputReply answers an InputRequest.
type InputReply struct {
	Value string `json:"value"`
}

func (InputReply) messageType() MessageType { return TypeInputReply }

// InterruptRequest asks the kernel to interrupt whatever is currently
// executing. Sent on the control channel, never queued.
type InterruptRequest struct{}

func (InterruptRequest) messageType() MessageType { return TypeInterruptRequest }

// InterruptReply acknowledges an interrupt.
type InterruptReply struct {
	Status ReplyStatus `json:"status,omitempty"`
}

func (InterruptReply) messageType() MessageType { return TypeInterruptReply }

// ShutdownRequest asks the kernel to exit. Restart tells the kernel
// the client intends to start it again, so it may skip slow teardown.
type ShutdownRequest struct {
	Restart bool `json:"restart,omitempty"`
}

func (ShutdownRequest) messageType() MessageType { return TypeShutdownRequest }

// ShutdownReply acknowledges a shutdown request.
type ShutdownReply struct {
	Status  ReplyStatus `json:"status,omitempty"`
	Restart bool        `json:"restart,omitempty"`
}

func (ShutdownReply) messageType() MessageType { return TypeShutdownReply }

// UnknownContent holds the raw payload of a message whose type this
// build does not recognize. Raw is codec bytes; Type is the declared
// type tag. Routing logs and drops these.
type UnknownContent struct {
	Type MessageType
	Raw  []byte
}

func (u UnknownContent) messageType() MessageType { return u.Type }

// decodeContent decodes the payload for the given message type using
// the supplied codec-specific unmarshal function and returns it as a
// value. Unknown types return (nil, nil); the caller substitutes
// UnknownContent. The switch is exhaustive over the declared types so
// adding a type without a decode arm is caught by tests.
func decodeContent(messageType MessageType, unmarshal func(any) error) (Content, error) {
	switch messageType {
	case TypeExecuteRequest:
		var content ExecuteRequest
		return content, unmarshal(&content)
	case TypeExecuteReply:
		var content ExecuteReply
		return content, unmarshal(&content)
	case TypeExecuteInput:
		var content ExecuteInput
		return content, unmarshal(&content)
	case TypeExecuteResult:
		var content ExecuteResult
		return content, unmarshal(&content)
	case TypeStatus:
		var content Status
		return content, unmarshal(&content)
	case TypeStream:
		var content Stream
		return content, unmarshal(&content)
	case TypeDisplayData:
		var content DisplayData
		return content, unmarshal(&content)
	case TypeUpdateDisplayData:
		var content UpdateDisplayData
		return content, unmarshal(&content)
	case TypeError:
		var content RuntimeError
		return content, unmarshal(&content)
	case TypeClearOutput:
		var content ClearOutput
		return content, unmarshal(&content)
	case TypeCommOpen:
		var content CommOpen
		return content, unmarshal(&content)
	case TypeCommMsg:
		var content CommMsg
		return content, unmarshal(&content)
	case TypeCommClose:
		var content CommClose
		return content, unmarshal(&content)
	case TypeKernelInfoRequest:
		var content KernelInfoRequest
		return content, unmarshal(&content)
	case TypeKernelInfoReply:
		var content KernelInfoReply
		return content, unmarshal(&content)
	case TypeCompleteRequest:
		var content CompleteRequest
		return content, unmarshal(&content)
	case TypeCompleteReply:
		var content CompleteReply
		return content, unmarshal(&content)
	case TypeInspectRequest:
		var content InspectRequest
		return content, unmarshal(&content)
	case TypeInspectReply:
		var content InspectReply
		return content, unmarshal(&content)
	case TypeHistoryRequest:
		var content HistoryRequest
		return content, unmarshal(&content)
	case TypeHistoryReply:
		var content HistoryReply
		return content, unmarshal(&content)
	case TypeIsCompleteRequest:
		var content IsCompleteRequest
		return content, unmarshal(&content)
	case TypeIsCompleteReply:
		var content IsCompleteReply
		return content, unmarshal(&content)
	case TypeInputRequest:
		var content InputRequest
		return content, unmarshal(&content)
	case TypeInputReply:
		var content InputReply
		return content, unmarshal(&content)
	case TypeInterruptRequest:
		var content InterruptRequest
		return content, unmarshal(&content)
	case TypeInterruptReply:
		var content InterruptReply
		return content, unmarshal(&content)
	case TypeShutdownRequest:
		var content ShutdownRequest
		return content, unmarshal(&content)
	case TypeShutdownReply:
		var content ShutdownReply
		return content, unmarshal(&content)
	default:
		return nil, nil
	}
}
