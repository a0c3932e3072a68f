// Package pmode implements Processing Mode configuration for the AS4
// gateway.
//
// A Processing Mode (PMode) governs how a message is sent or received:
// exchange pattern binding, target endpoint, reception awareness retry
// parameters and consumer-side deliver/notify behaviour. PModes are loaded
// from YAML files at startup and validated upstream; the reliability engine
// treats them as read-only configuration and snapshots the PMode in effect
// onto every persisted message.
package pmode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MEPBinding is the message exchange pattern binding.
type MEPBinding string

const (
	// Push delivers the message to the receiver's endpoint.
	Push MEPBinding = "push"
	// Pull waits for the receiver to request the message from an MPC.
	Pull MEPBinding = "pull"
)

// SendingProcessingMode governs outgoing messages.
type SendingProcessingMode struct {
	ID         string     `yaml:"id" json:"id"`
	MEPBinding MEPBinding `yaml:"mepBinding" json:"mepBinding"`
	MPC        string     `yaml:"mpc,omitempty" json:"mpc,omitempty"`

	PushConfiguration PushConfiguration `yaml:"pushConfiguration" json:"pushConfiguration"`
	Reliability       SendReliability   `yaml:"reliability" json:"reliability"`
	ErrorHandling     ErrorHandling     `yaml:"errorHandling" json:"errorHandling"`
}

// PushConfiguration holds the target endpoint for push sending.
type PushConfiguration struct {
	URL string `yaml:"url" json:"url"`
}

// SendReliability configures the AS4 reception awareness feature.
type SendReliability struct {
	ReceptionAwareness ReceptionAwareness `yaml:"receptionAwareness" json:"receptionAwareness"`
}

// ReceptionAwareness holds the retry parameters applied to a sent
// UserMessage until it is acknowledged or retries are exhausted.
type ReceptionAwareness struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	RetryCount    int      `yaml:"retryCount" json:"retryCount"`
	RetryInterval Duration `yaml:"retryInterval" json:"retryInterval"`
}

// ReceivingProcessingMode governs received messages.
type ReceivingProcessingMode struct {
	ID  string `yaml:"id" json:"id"`
	MPC string `yaml:"mpc,omitempty" json:"mpc,omitempty"`

	MessageHandling   MessageHandling `yaml:"messageHandling" json:"messageHandling"`
	ExceptionHandling ErrorHandling   `yaml:"exceptionHandling" json:"exceptionHandling"`
}

// ErrorHandling configures whether processing failures are surfaced to the
// business consumer as notifications.
type ErrorHandling struct {
	NotifyConsumer bool `yaml:"notifyConsumer" json:"notifyConsumer"`
}

// MessageHandling configures what happens to a received UserMessage after
// protocol processing.
type MessageHandling struct {
	Deliver Deliver `yaml:"deliver" json:"deliver"`
}

// Deliver configures consumer delivery of received payloads.
type Deliver struct {
	Enabled bool        `yaml:"enabled" json:"enabled"`
	Retry   RetryPolicy `yaml:"retry" json:"retry"`
}

// RetryPolicy is a generic retry configuration for deliver and notify
// operations.
type RetryPolicy struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	MaxRetryCount int      `yaml:"maxRetryCount" json:"maxRetryCount"`
	RetryInterval Duration `yaml:"retryInterval" json:"retryInterval"`
}

// Provider is the read-only PMode lookup consumed by the reliability engine.
type Provider interface {
	// GetSendingPMode returns the sending PMode with the given id.
	GetSendingPMode(id string) (*SendingProcessingMode, error)

	// GetReceivingPModes returns all configured receiving PModes.
	GetReceivingPModes() []*ReceivingProcessingMode
}

// Duration is a time.Duration that unmarshals from either Go duration
// syntax ("5s", "2m30s") or the hh:mm:ss form used by common AS4
// configuration tooling ("00:00:05").
type Duration time.Duration

// Std converts to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String renders the Go duration syntax.
func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalYAML parses both supported duration syntaxes.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalYAML renders the Go duration syntax.
func (d Duration) MarshalYAML() (interface{}, error) { return d.String(), nil }

// UnmarshalJSON parses both supported duration syntaxes.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON renders the Go duration syntax.
func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

// ParseDuration parses "5s" style Go durations and "hh:mm:ss" intervals.
func ParseDuration(raw string) (Duration, error) {
	if parsed, err := time.ParseDuration(raw); err == nil {
		return Duration(parsed), nil
	}

	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	var total time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		total += time.Duration(n) * unit
	}
	return Duration(total), nil
}

// FileProvider loads PModes from a directory of YAML files and serves them
// from memory. Files named sending-*.yaml hold sending PModes; files named
// receiving-*.yaml hold receiving PModes.
type FileProvider struct {
	sending   map[string]*SendingProcessingMode
	receiving []*ReceivingProcessingMode
}

// NewFileProvider reads every PMode file in dir.
func NewFileProvider(dir string) (*FileProvider, error) {
	p := &FileProvider{sending: make(map[string]*SendingProcessingMode)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading pmode directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		ext := filepath.Ext(name)
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading pmode %s: %w", name, err)
		}
		switch {
		case strings.HasPrefix(name, "sending-"):
			var pm SendingProcessingMode
			if err := yaml.Unmarshal(data, &pm); err != nil {
				return nil, fmt.Errorf("parsing sending pmode %s: %w", name, err)
			}
			if pm.ID == "" {
				return nil, fmt.Errorf("sending pmode %s has no id", name)
			}
			p.sending[pm.ID] = &pm
		case strings.HasPrefix(name, "receiving-"):
			var pm ReceivingProcessingMode
			if err := yaml.Unmarshal(data, &pm); err != nil {
				return nil, fmt.Errorf("parsing receiving pmode %s: %w", name, err)
			}
			if pm.ID == "" {
				return nil, fmt.Errorf("receiving pmode %s has no id", name)
			}
			p.receiving = append(p.receiving, &pm)
		}
	}
	return p, nil
}

// GetSendingPMode returns the sending PMode with the given id.
func (p *FileProvider) GetSendingPMode(id string) (*SendingProcessingMode, error) {
	pm, ok := p.sending[id]
	if !ok {
		return nil, fmt.Errorf("no sending pmode with id %q", id)
	}
	return pm, nil
}

// GetReceivingPModes returns all configured receiving PModes.
func (p *FileProvider) GetReceivingPModes() []*ReceivingProcessingMode {
	return p.receiving
}

// StaticProvider serves PModes registered in memory. Used by tests and by
// embedders that manage configuration themselves.
type StaticProvider struct {
	Sending   map[string]*SendingProcessingMode
	Receiving []*ReceivingProcessingMode
}

// GetSendingPMode returns the sending PMode with the given id.
func (p *StaticProvider) GetSendingPMode(id string) (*SendingProcessingMode, error) {
	pm, ok := p.Sending[id]
	if !ok {
		return nil, fmt.Errorf("no sending pmode with id %q", id)
	}
	return pm, nil
}

// GetReceivingPModes returns all configured receiving PModes.
func (p *StaticProvider) GetReceivingPModes() []*ReceivingProcessingMode {
	return p.Receiving
}

// Serialize renders a PMode snapshot for persistence alongside a message.
func Serialize(pm interface{}) (string, error) {
	data, err := json.Marshal(pm)
	if err != nil {
		return "", fmt.Errorf("serializing pmode snapshot: %w", err)
	}
	return string(data), nil
}

// DeserializeSending restores a sending PMode snapshot.
func DeserializeSending(snapshot string) (*SendingProcessingMode, error) {
	var pm SendingProcessingMode
	if err := json.Unmarshal([]byte(snapshot), &pm); err != nil {
		return nil, fmt.Errorf("parsing sending pmode snapshot: %w", err)
	}
	return &pm, nil
}

// DeserializeReceiving restores a receiving PMode snapshot.
func DeserializeReceiving(snapshot string) (*ReceivingProcessingMode, error) {
	var pm ReceivingProcessingMode
	if err := json.Unmarshal([]byte(snapshot), &pm); err != nil {
		return nil, fmt.Errorf("parsing receiving pmode snapshot: %w", err)
	}
	return &pm, nil
}
