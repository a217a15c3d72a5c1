package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/msgweave/internal/engine"
	"github.com/roach88/msgweave/internal/model"
	"github.com/roach88/msgweave/internal/testutil"
)

// DefaultStart is the manual clock origin when a scenario sets none.
var DefaultStart = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// DefaultOwner is the owned identity when a scenario sets none.
const DefaultOwner = "owner"

// Scenario is one replayable sequence of payloads and user actions.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Owner is the discussion's owned identity.
	Owner string `yaml:"owner,omitempty"`

	// Start is the manual clock origin. "at" offsets count from here.
	Start time.Time `yaml:"start,omitempty"`

	Settings *SettingsSpec `yaml:"settings,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// SettingsSpec overrides engine defaults. Zero values keep the default.
type SettingsSpec struct {
	RetainWipedOutboundMessages bool          `yaml:"retain_wiped_outbound_messages"`
	SortEpsilon                 float64       `yaml:"sort_epsilon"`
	PendingTTL                  time.Duration `yaml:"pending_ttl"`
	TimeBasedRetention          time.Duration `yaml:"time_based_retention"`
	CountBasedRetention         int64         `yaml:"count_based_retention"`
}

// EngineSettings returns the defaults with s applied.
func (s *SettingsSpec) EngineSettings() engine.Settings {
	out := engine.DefaultSettings()
	if s == nil {
		return out
	}
	out.RetainWipedOutboundMessages = s.RetainWipedOutboundMessages
	if s.SortEpsilon != 0 {
		out.SortEpsilon = s.SortEpsilon
	}
	if s.PendingTTL != 0 {
		out.PendingTTL = s.PendingTTL
	}
	out.TimeRetention = s.TimeBasedRetention
	out.CountRetention = s.CountBasedRetention
	return out
}

// Ref names a message by sender, thread name, and sequence number.
type Ref struct {
	Sender string `yaml:"sender"`
	Thread string `yaml:"thread"`
	Seq    int64  `yaml:"seq"`
}

// Reference resolves the thread name.
func (r Ref) Reference() model.Reference {
	return model.Reference{
		Sender:   model.Identity(r.Sender),
		ThreadID: testutil.ThreadID(r.Thread),
		Sequence: r.Seq,
	}
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Sender, r.Thread, r.Seq)
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	Message       *MessageStep  `yaml:"message,omitempty"`
	Mutation      *MutationStep `yaml:"mutation,omitempty"`
	Outbound      *OutboundStep `yaml:"outbound,omitempty"`
	Assign        *AssignStep   `yaml:"assign,omitempty"`
	Ack           *AckStep      `yaml:"ack,omitempty"`
	Seen          *Ref          `yaml:"seen,omitempty"`
	Read          *ReadStep     `yaml:"read,omitempty"`
	DeleteLocally *Ref          `yaml:"delete_locally,omitempty"`
	Advance       time.Duration `yaml:"advance,omitempty"`
	Sweep         bool          `yaml:"sweep,omitempty"`
	Purge         bool          `yaml:"purge,omitempty"`
	Retention     bool          `yaml:"retention,omitempty"`
	Exit          bool          `yaml:"exit,omitempty"`

	// ExpectError marks a step that must fail.
	ExpectError bool `yaml:"expect_error,omitempty"`
}

// Op returns the name of the step's action.
func (s Step) Op() (string, error) {
	var ops []string
	add := func(set bool, name string) {
		if set {
			ops = append(ops, name)
		}
	}
	add(s.Message != nil, "message")
	add(s.Mutation != nil, "mutation")
	add(s.Outbound != nil, "outbound")
	add(s.Assign != nil, "assign")
	add(s.Ack != nil, "ack")
	add(s.Seen != nil, "seen")
	add(s.Read != nil, "read")
	add(s.DeleteLocally != nil, "delete_locally")
	add(s.Advance != 0, "advance")
	add(s.Sweep, "sweep")
	add(s.Purge, "purge")
	add(s.Retention, "retention")
	add(s.Exit, "exit")

	switch len(ops) {
	case 0:
		return "", fmt.Errorf("no action set")
	case 1:
		return ops[0], nil
	default:
		return "", fmt.Errorf("more than one action set: %v", ops)
	}
}

// MessageStep is an incoming payload.
type MessageStep struct {
	Ref          `yaml:",inline"`
	Body         string             `yaml:"body,omitempty"`
	At           int64              `yaml:"at"`
	DownloadedAt *int64             `yaml:"downloaded_at,omitempty"`
	ReplyTo      *Ref               `yaml:"reply_to,omitempty"`
	Mentions     []string           `yaml:"mentions,omitempty"`
	Ephemeral    model.Ephemerality `yaml:"ephemeral,omitempty"`
	Forwarded    bool               `yaml:"forwarded,omitempty"`
	EngineID     string             `yaml:"engine_id,omitempty"`
}

// MutationStep is a remote delete, edit, or reaction.
type MutationStep struct {
	Kind         string   `yaml:"kind"`
	Requester    string   `yaml:"requester"`
	Target       Ref      `yaml:"target"`
	At           int64    `yaml:"at"`
	Body         string   `yaml:"body,omitempty"`
	Mentions     []string `yaml:"mentions,omitempty"`
	Emoji        string   `yaml:"emoji,omitempty"`
	Unauthorized bool     `yaml:"unauthorized,omitempty"`
}

// OutboundStep is a message composed on this device.
type OutboundStep struct {
	Thread     string             `yaml:"thread"`
	Seq        int64              `yaml:"seq"`
	Body       string             `yaml:"body,omitempty"`
	At         int64              `yaml:"at"`
	Recipients []string           `yaml:"recipients,omitempty"`
	ReplyTo    *Ref               `yaml:"reply_to,omitempty"`
	Mentions   []string           `yaml:"mentions,omitempty"`
	Ephemeral  model.Ephemerality `yaml:"ephemeral,omitempty"`
}

// AssignStep records the transport id of one recipient's copy of an
// outbound message.
type AssignStep struct {
	Thread    string `yaml:"thread"`
	Seq       int64  `yaml:"seq"`
	Recipient string `yaml:"recipient"`
	EngineID  string `yaml:"engine_id"`
}

// AckStep is delivery progress for one recipient.
type AckStep struct {
	EngineID    string `yaml:"engine_id"`
	Recipient   string `yaml:"recipient,omitempty"`
	SentAt      *int64 `yaml:"sent_at,omitempty"`
	DeliveredAt *int64 `yaml:"delivered_at,omitempty"`
	ReadAt      *int64 `yaml:"read_at,omitempty"`
	Failed      bool   `yaml:"failed,omitempty"`
}

// ReadStep marks a received message read, locally or on another device.
type ReadStep struct {
	Ref    `yaml:",inline"`
	At     int64 `yaml:"at"`
	Remote bool  `yaml:"remote,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of order, message, absent, stats, notifications.
	Type string `yaml:"type"`

	// Refs lists messages in expected timeline order (order).
	Refs []Ref `yaml:"refs,omitempty"`

	// Ref is the message under test (message, absent).
	Ref *Ref `yaml:"ref,omitempty"`

	// Expect holds expected values, subset match (message, stats).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Kinds is the exact notification kind sequence (notifications).
	Kinds []string `yaml:"kinds,omitempty"`
}

// Assertion type constants.
const (
	AssertOrder         = "order"
	AssertMessage       = "message"
	AssertAbsent        = "absent"
	AssertStats         = "stats"
	AssertNotifications = "notifications"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos surface as load errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Owner == "" {
		scenario.Owner = DefaultOwner
	}
	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}
	scenario.Start = scenario.Start.UTC()

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if err := s.Settings.EngineSettings().Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	for i, step := range s.Steps {
		op, err := step.Op()
		if err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
		if err := validateStep(op, step); err != nil {
			return fmt.Errorf("steps[%d] (%s): %w", i, op, err)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateRef(r Ref) error {
	if r.Sender == "" || r.Thread == "" {
		return fmt.Errorf("reference needs sender and thread")
	}
	return nil
}

func validateStep(op string, s Step) error {
	switch op {
	case "message":
		return validateRef(s.Message.Ref)
	case "mutation":
		if !model.MutationKind(s.Mutation.Kind).Valid() {
			return fmt.Errorf("unknown mutation kind %q", s.Mutation.Kind)
		}
		if s.Mutation.Requester == "" {
			return fmt.Errorf("requester is required")
		}
		return validateRef(s.Mutation.Target)
	case "outbound":
		if s.Outbound.Thread == "" {
			return fmt.Errorf("thread is required")
		}
	case "assign":
		if s.Assign.Thread == "" || s.Assign.Recipient == "" || s.Assign.EngineID == "" {
			return fmt.Errorf("thread, recipient and engine_id are required")
		}
	case "ack":
		if s.Ack.EngineID == "" {
			return fmt.Errorf("engine_id is required")
		}
	case "seen":
		return validateRef(*s.Seen)
	case "read":
		return validateRef(s.Read.Ref)
	case "delete_locally":
		return validateRef(*s.DeleteLocally)
	case "advance":
		if s.Advance < 0 {
			return fmt.Errorf("advance must not be negative")
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertOrder:
		if len(a.Refs) < 2 {
			return fmt.Errorf("assertions[%d]: order needs at least two refs", index)
		}
	case AssertMessage:
		if a.Ref == nil {
			return fmt.Errorf("assertions[%d]: ref is required for message", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for message", index)
		}
	case AssertAbsent:
		if a.Ref == nil {
			return fmt.Errorf("assertions[%d]: ref is required for absent", index)
		}
	case AssertStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stats", index)
		}
	case AssertNotifications:
		if a.Kinds == nil {
			return fmt.Errorf("assertions[%d]: kinds is required for notifications", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
