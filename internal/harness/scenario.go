package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/answersync/internal/answer"
)

// Scenario is a scripted run of the submission pipeline.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Setup       Setup       `yaml:"setup"`
	Steps       []Step      `yaml:"steps"`
	Assertions  []Assertion `yaml:"assertions"`
}

// Setup is the starting state of the pipeline.
type Setup struct {
	// Online is the initial NetworkStatus.
	Online bool `yaml:"online"`
	// Probe is reachable or unreachable. Empty follows Online.
	Probe        string `yaml:"probe,omitempty"`
	SkipRejected bool   `yaml:"skip_rejected,omitempty"`
}

// Step is one action. Exactly one of the action fields is set.
type Step struct {
	Submit        *SubmitStep `yaml:"submit,omitempty"`
	Network       string      `yaml:"network,omitempty"`
	EffectiveType string      `yaml:"effective_type,omitempty"`
	Probe         string      `yaml:"probe,omitempty"`
	Remote        *RemoteStep `yaml:"remote,omitempty"`
	Retry         bool        `yaml:"retry,omitempty"`
	Clear         bool        `yaml:"clear,omitempty"`
	Await         string      `yaml:"await,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// SubmitStep is a SubmitAnswer call. Answer is JSON text.
type SubmitStep struct {
	ElementID     string `yaml:"element_id"`
	LessonID      string `yaml:"lesson_id"`
	GraphLessonID string `yaml:"graph_lesson_id"`
	Answer        string `yaml:"answer"`
}

// RemoteStep scripts the fake remote.
type RemoteStep struct {
	FailNext   []string `yaml:"fail_next,omitempty"`
	RejectNext []string `yaml:"reject_next,omitempty"`
	Failing    *bool    `yaml:"failing,omitempty"`
	Block      bool     `yaml:"block,omitempty"`
	Release    bool     `yaml:"release,omitempty"`
}

// Expect checks the outcome of the step it belongs to. Only set fields
// are compared.
type Expect struct {
	Success   *bool `yaml:"success,omitempty"`
	Cached    *bool `yaml:"cached,omitempty"`
	Rejected  *bool `yaml:"rejected,omitempty"`
	Online    *bool `yaml:"online,omitempty"`
	Succeeded *int  `yaml:"succeeded,omitempty"`
	Remaining *int  `yaml:"remaining,omitempty"`
}

// Assertion is a check on the final state.
type Assertion struct {
	Type      string `yaml:"type"`
	ElementID string `yaml:"element_id,omitempty"`
	LessonID  string `yaml:"lesson_id,omitempty"`
	Count     *int   `yaml:"count,omitempty"`
	Status    string `yaml:"status,omitempty"`
	Answer    string `yaml:"answer,omitempty"`
	HasError  *bool  `yaml:"has_error,omitempty"`
	Retryable *bool  `yaml:"retryable,omitempty"`
}

// Assertion types.
const (
	AssertPendingCount   = "pending_count"
	AssertCached         = "cached"
	AssertNotCached      = "not_cached"
	AssertRemoteCalls    = "remote_calls"
	AssertRemoteAccepted = "remote_accepted"
	AssertSyncCount      = "sync_count"
	AssertNoLoss         = "no_loss"
)

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario. Unknown fields are
// rejected so typos do not silently skip a check.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var scenarios []*Scenario
	var errs []error
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, errors.Join(errs...)
}

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
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if err := validateProbe(s.Setup.Probe, true); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	for i := range s.Steps {
		if err := validateStep(&s.Steps[i]); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(&s.Assertions[i]); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateProbe(state string, allowEmpty bool) error {
	switch state {
	case "reachable", "unreachable":
		return nil
	case "":
		if allowEmpty {
			return nil
		}
	}
	return fmt.Errorf("probe must be reachable or unreachable, got %q", state)
}

func validateStep(st *Step) error {
	actions := 0
	count := func(set bool) {
		if set {
			actions++
		}
	}
	count(st.Submit != nil)
	count(st.Network != "")
	count(st.Probe != "")
	count(st.Remote != nil)
	count(st.Retry)
	count(st.Clear)
	count(st.Await != "")
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, got %d", actions)
	}

	switch {
	case st.Submit != nil:
		sub := st.Submit
		if sub.ElementID == "" || sub.LessonID == "" || sub.GraphLessonID == "" {
			return fmt.Errorf("submit: element_id, lesson_id and graph_lesson_id are required")
		}
		if _, err := answer.ParsePayload([]byte(sub.Answer)); err != nil {
			return fmt.Errorf("submit: answer: %w", err)
		}
	case st.Network != "":
		switch st.Network {
		case "online", "offline", "quality_changed":
		default:
			return fmt.Errorf("network must be online, offline or quality_changed, got %q", st.Network)
		}
	case st.Probe != "":
		if err := validateProbe(st.Probe, false); err != nil {
			return err
		}
	case st.Remote != nil:
		r := st.Remote
		if r.Block && r.Release {
			return fmt.Errorf("remote: block and release are exclusive")
		}
	case st.Await != "":
		if st.Await != "sync" {
			return fmt.Errorf("await must be sync, got %q", st.Await)
		}
	}
	if st.EffectiveType != "" && st.Network == "" {
		return fmt.Errorf("effective_type requires a network action")
	}
	return nil
}

func validateAssertion(a *Assertion) error {
	switch a.Type {
	case AssertPendingCount, AssertSyncCount, AssertRemoteCalls, AssertRemoteAccepted:
		if a.Count == nil {
			return fmt.Errorf("%s: count is required", a.Type)
		}
	case AssertCached, AssertNotCached:
		if a.ElementID == "" || a.LessonID == "" {
			return fmt.Errorf("%s: element_id and lesson_id are required", a.Type)
		}
		if a.Status != "" && !answer.Status(a.Status).Valid() {
			return fmt.Errorf("%s: unknown status %q", a.Type, a.Status)
		}
	case AssertNoLoss:
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
