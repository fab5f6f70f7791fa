// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/thyone-project/thyone/wire"
)

// Channel identifies one of the kernel protocol channels.
type Channel int

const (
	ChannelShell Channel = iota
	ChannelIOPub
	ChannelStdin
	ChannelControl
	ChannelHeartbeat
)

// messageChannels are the channels that carry protocol messages, in
// the order their sockets are dialed. Heartbeat is excluded: it
// carries raw echo bytes, not frames.
var messageChannels = [...]Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl}

func (c Channel) String() string {
	switch c {
	case ChannelShell:
		return "shell"
	case ChannelIOPub:
		return "iopub"
	case ChannelStdin:
		return "stdin"
	case ChannelControl:
		return "control"
	case ChannelHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// ConnectInfo is the connection descriptor for one kernel: where each
// channel listens, how payloads are encoded, and the signing key. It
// is the JSON document stored in connection files.
type ConnectInfo struct {
	// Transport names the stream transport. Only "tcp" is defined.
	Transport string `json:"transport"`

	// IP is the interface the kernel listens on.
	IP string `json:"ip"`

	ShellPort     int `json:"shell_port"`
	IOPubPort     int `json:"iopub_port"`
	StdinPort     int `json:"stdin_port"`
	ControlPort   int `json:"control_port"`
	HeartbeatPort int `json:"hb_port"`

	// Key is the hex-encoded HMAC-SHA256 signing key. Empty disables
	// signing.
	Key string `json:"key"`

	// SignatureScheme names the signing algorithm for Key.
	SignatureScheme string `json:"signature_scheme"`

	// Codec names the payload codec: "json" or "cbor".
	Codec string `json:"codec"`

	// KernelName optionally records which kernelspec the kernel was
	// launched from, for display when attaching.
	KernelName string `json:"kernel_name,omitempty"`
}

// NewConnectInfo builds a descriptor with a fresh signing key, the
// loopback interface, and unassigned ports. Call AllocatePorts (or let
// Listen bind port zero) before writing it to disk.
func NewConnectInfo(codecName string) (ConnectInfo, error) {
	if _, err := wire.CodecByName(codecName); err != nil {
		return ConnectInfo{}, err
	}
	key, err := wire.NewKey()
	if err != nil {
		return ConnectInfo{}, err
	}
	return ConnectInfo{
		Transport:       "tcp",
		IP:              "127.0.0.1",
		Key:             key,
		SignatureScheme: "hmac-sha256",
		Codec:           codecName,
	}, nil
}

// Validate checks that the descriptor is usable for dialing.
func (info ConnectInfo) Validate() error {
	var problems []error
	if info.Transport != "tcp" {
		problems = append(problems, fmt.Errorf("unsupported transport %q", info.Transport))
	}
	if info.IP == "" {
		problems = append(problems, errors.New("missing ip"))
	}
	if info.SignatureScheme != "" && info.SignatureScheme != "hmac-sha256" {
		problems = append(problems, fmt.Errorf("unsupported signature scheme %q", info.SignatureScheme))
	}
	if _, err := wire.CodecByName(info.Codec); err != nil {
		problems = append(problems, err)
	}
	for _, channel := range []Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl, ChannelHeartbeat} {
		if port := info.port(channel); port <= 0 || port > 65535 {
			problems = append(problems, fmt.Errorf("%s port %d out of range", channel, port))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("transport: invalid connection descriptor: %w", errors.Join(problems...))
	}
	return nil
}

// Addr returns the host:port address for a channel.
func (info ConnectInfo) Addr(channel Channel) string {
	return net.JoinHostPort(info.IP, strconv.Itoa(info.port(channel)))
}

func (info ConnectInfo) port(channel Channel) int {
	switch channel {
	case ChannelShell:
		return info.ShellPort
	case ChannelIOPub:
		return info.IOPubPort
	case ChannelStdin:
		return info.StdinPort
	case ChannelControl:
		return info.ControlPort
	case ChannelHeartbeat:
		return info.HeartbeatPort
	default:
		return 0
	}
}

func (info *ConnectInfo) setPort(channel Channel, port int) {
	switch channel {
	case ChannelShell:
		info.ShellPort = port
	case ChannelIOPub:
		info.IOPubPort = port
	case ChannelStdin:
		info.StdinPort = port
	case ChannelControl:
		info.ControlPort = port
	case ChannelHeartbeat:
		info.HeartbeatPort = port
	}
}

// AllocatePorts fills the port fields with free ephemeral ports by
// binding and immediately releasing them. The ports are not reserved
// afterwards, so a kernel must bind them promptly; this is the race
// every connection-file protocol accepts in exchange for letting the
// client write the complete descriptor before launching the kernel.
func (info *ConnectInfo) AllocatePorts() error {
	for _, channel := range []Channel{ChannelShell, ChannelIOPub, ChannelStdin, ChannelControl, ChannelHeartbeat} {
		listener, err := net.Listen("tcp", net.JoinHostPort(info.IP, "0"))
		if err != nil {
			return fmt.Errorf("transport: allocating %s port: %w", channel, err)
		}
		port := listener.Addr().(*net.TCPAddr).Port
		if err := listener.Close(); err != nil {
			return fmt.Errorf("transport: releasing %s port: %w", channel, err)
		}
		info.setPort(channel, port)
	}
	return nil
}

// signer builds the frame signer for this descriptor.
func (info ConnectInfo) signer() (*wire.Signer, error) {
	key, err := wire.ParseKey(info.Key)
	if err != nil {
		return nil, err
	}
	return wire.NewSigner(key), nil
}

// ReadConnectionFile loads a descriptor from a JSON connection file.
func ReadConnectionFile(path string) (ConnectInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConnectInfo{}, fmt.Errorf("transport: reading connection file: %w", err)
	}
	var info ConnectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return ConnectInfo{}, fmt.Errorf("transport: parsing connection file %s: %w", path, err)
	}
	return info, nil
}

// WriteConnectionFile persists a descriptor atomically: written to a
// temporary file in the same directory, synced, then renamed over the
// destination. A reader never observes a partial descriptor. The file
// is created owner-only because it contains the signing key.
func WriteConnectionFile(path string, info ConnectInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("transport: encoding connection file: %w", err)
	}
	data = append(data, '\n')

	directory := filepath.Dir(path)
	temporary, err := os.CreateTemp(directory, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("transport: creating temporary connection file: %w", err)
	}
	temporaryPath := temporary.Name()

	cleanup := func() {
		temporary.Close()
		os.Remove(temporaryPath)
	}
	if err := temporary.Chmod(0o600); err != nil {
		cleanup()
		return fmt.Errorf("transport: restricting connection file mode: %w", err)
	}
	if _, err := temporary.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("transport: writing connection file: %w", err)
	}
	if err := temporary.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("transport: syncing connection file: %w", err)
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("transport: closing connection file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("transport: installing connection file: %w", err)
	}
	return nil
}

// FindConnectionFiles lists connection files in a runtime directory,
// newest first. Used by the attach-to-existing flow when no explicit
// file is given.
func FindConnectionFiles(runtimeDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(runtimeDir, "kernel-*.json"))
	if err != nil {
		return nil, fmt.Errorf("transport: listing connection files: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		first, errFirst := os.Stat(matches[i])
		second, errSecond := os.Stat(matches[j])
		if errFirst != nil || errSecond != nil {
			return matches[i] > matches[j]
		}
		return first.ModTime().After(second.ModTime())
	})
	return matches, nil
}
