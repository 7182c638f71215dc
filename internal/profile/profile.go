// Package profile loads named pairing profiles from YAML or TOML files and
// turns them into session options.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/orchestrator"
)

var ErrProfileNotFound = errors.New("profile not found")

const (
	DefaultName = "default"

	PauseModeNone        = "none"
	PauseModeEveryNCalls = "every_n_calls"

	TurnModeAlternate = "alternate_each_round"
	TurnModeSticky    = "sticky_until_signoff"

	DefaultEditsPerPause             = 3
	DefaultMaxConsecutiveRounds      = 3
	DefaultMaxConsecutiveCheckpoints = 6

	DefaultProvider = "claude"
	DefaultModel    = "sonnet"
)

var DefaultCountedTools = []string{models.ToolEdit, models.ToolWrite}

type Profile struct {
	Name          string          `yaml:"name" toml:"name"`
	Description   string          `yaml:"description" toml:"description"`
	Strategy      string          `yaml:"strategy" toml:"strategy"`
	MaxRounds     int             `yaml:"max_rounds" toml:"max_rounds"`
	InitialDriver string          `yaml:"initial_driver" toml:"initial_driver"`
	Synthesizer   string          `yaml:"synthesizer" toml:"synthesizer"`
	Pause         PauseConfig     `yaml:"pause" toml:"pause"`
	Turn          TurnConfig      `yaml:"turn" toml:"turn"`
	Agents        Agents          `yaml:"agents" toml:"agents"`
	Workspace     WorkspaceConfig `yaml:"workspace" toml:"workspace"`

	// Path is the file the profile was read from; empty for Default.
	Path string `yaml:"-" toml:"-"`
}

type PauseConfig struct {
	Mode          string   `yaml:"mode" toml:"mode"`
	EditsPerPause int      `yaml:"edits_per_pause" toml:"edits_per_pause"`
	CountedTools  []string `yaml:"counted_tools" toml:"counted_tools"`
}

type TurnConfig struct {
	Mode                      string `yaml:"mode" toml:"mode"`
	MaxConsecutiveRounds      int    `yaml:"max_consecutive_rounds" toml:"max_consecutive_rounds"`
	MaxConsecutiveCheckpoints int    `yaml:"max_consecutive_checkpoints" toml:"max_consecutive_checkpoints"`
}

type Agents struct {
	A AgentConfig `yaml:"a" toml:"a"`
	B AgentConfig `yaml:"b" toml:"b"`
}

type AgentConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
	Model    string `yaml:"model" toml:"model"`
	Effort   string `yaml:"effort" toml:"effort"`
}

type WorkspaceConfig struct {
	Isolate bool `yaml:"isolate" toml:"isolate"`
}

// Default is used when no profile is named and none called "default" exists.
func Default() *Profile {
	return &Profile{
		Name:        DefaultName,
		Description: "Paired turns, alternating drivers, no automatic checkpoints.",
		Strategy:    string(models.StrategyPairedTurns),
		MaxRounds:   orchestrator.DefaultMaxRounds,
		Pause:       PauseConfig{Mode: PauseModeNone},
		Turn:        TurnConfig{Mode: TurnModeAlternate},
	}
}

func Parse(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile file: %w", err)
	}

	var p Profile
	if strings.HasSuffix(path, ".toml") {
		if err := toml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse profile TOML: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse profile YAML: %w", err)
		}
	}
	p.Path = path

	return &p, nil
}

func isProfileFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".toml")
}

func baseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// LoadAll reads every profile in dirs. Earlier directories win on name
// clashes, so the project directory should come first.
func LoadAll(dirs []string) (map[string]*Profile, error) {
	profiles := make(map[string]*Profile)

	for _, dir := range dirs {
		if err := loadFromDir(dir, profiles); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return profiles, nil
}

func loadFromDir(dir string, profiles map[string]*Profile) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isProfileFile(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := Parse(path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if p.Name == "" {
			p.Name = baseName(entry.Name())
		}
		if _, seen := profiles[p.Name]; seen {
			continue
		}
		profiles[p.Name] = p
	}

	return nil
}

// Lookup resolves name against dirs. The empty name and "default" fall back
// to Default when no file provides them.
func Lookup(dirs []string, name string) (*Profile, error) {
	if name == "" {
		name = DefaultName
	}
	profiles, err := LoadAll(dirs)
	if err != nil {
		return nil, err
	}
	if p, ok := profiles[name]; ok {
		return p, nil
	}
	if name == DefaultName {
		return Default(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
}

// Names returns the profile names in sorted order.
func Names(profiles map[string]*Profile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func Validate(p *Profile) error {
	if p.Name == "" {
		return fmt.Errorf("profile must have a name")
	}
	opts, err := p.Options()
	if err != nil {
		return err
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("profile %q: %w", p.Name, err)
	}
	for _, id := range []models.AgentID{models.AgentA, models.AgentB} {
		if _, err := p.Agent(id); err != nil {
			return fmt.Errorf("profile %q: %w", p.Name, err)
		}
	}
	return nil
}

// Options converts the raw profile fields into session options. Omitted
// fields take the orchestrator defaults.
func (p *Profile) Options() (orchestrator.Options, error) {
	opts := orchestrator.DefaultOptions()

	if p.Strategy != "" {
		opts.Strategy = models.Strategy(p.Strategy)
	}
	if p.MaxRounds != 0 {
		opts.MaxRounds = p.MaxRounds
	}
	if p.InitialDriver != "" {
		id, err := models.ParseAgentID(p.InitialDriver)
		if err != nil {
			return opts, fmt.Errorf("initial_driver: %w", err)
		}
		opts.InitialDriver = id
	}
	if p.Synthesizer != "" {
		id, err := models.ParseAgentID(p.Synthesizer)
		if err != nil {
			return opts, fmt.Errorf("synthesizer: %w", err)
		}
		opts.Synthesizer = id
	}

	pause, err := p.Pause.strategy()
	if err != nil {
		return opts, err
	}
	opts.Pause = pause

	turn, err := p.Turn.policy()
	if err != nil {
		return opts, err
	}
	opts.Turn = turn

	return opts, nil
}

func (c PauseConfig) strategy() (models.PauseStrategy, error) {
	switch c.Mode {
	case "", PauseModeNone:
		if c.EditsPerPause != 0 {
			return nil, fmt.Errorf("pause: edits_per_pause requires mode %q", PauseModeEveryNCalls)
		}
		if len(c.CountedTools) > 0 {
			return nil, fmt.Errorf("pause: counted_tools requires mode %q", PauseModeEveryNCalls)
		}
		return models.PauseNone{}, nil
	case PauseModeEveryNCalls:
		n := c.EditsPerPause
		if n == 0 {
			n = DefaultEditsPerPause
		}
		tools := c.CountedTools
		if len(tools) == 0 {
			tools = DefaultCountedTools
		}
		return models.PauseEveryNCalls{EditsPerPause: n, CountedTools: tools}, nil
	default:
		return nil, fmt.Errorf("pause: unknown mode %q", c.Mode)
	}
}

func (c TurnConfig) policy() (models.TurnPolicy, error) {
	switch c.Mode {
	case "", TurnModeAlternate:
		if c.MaxConsecutiveRounds != 0 || c.MaxConsecutiveCheckpoints != 0 {
			return nil, fmt.Errorf("turn: max_consecutive_* requires mode %q", TurnModeSticky)
		}
		return models.AlternateEachRound{}, nil
	case TurnModeSticky:
		rounds := c.MaxConsecutiveRounds
		if rounds == 0 {
			rounds = DefaultMaxConsecutiveRounds
		}
		checkpoints := c.MaxConsecutiveCheckpoints
		if checkpoints == 0 {
			checkpoints = DefaultMaxConsecutiveCheckpoints
		}
		return models.StickyUntilSignoff{MaxConsecutiveRounds: rounds, MaxConsecutiveCheckpoints: checkpoints}, nil
	default:
		return nil, fmt.Errorf("turn: unknown mode %q", c.Mode)
	}
}

// Agent returns the model spec for one worker, filling provider, model and
// effort defaults.
func (p *Profile) Agent(id models.AgentID) (models.ModelSpec, error) {
	c := p.Agents.A
	if id == models.AgentB {
		c = p.Agents.B
	}

	spec := models.ModelSpec{Provider: c.Provider, Model: c.Model}
	if spec.Provider == "" {
		spec.Provider = DefaultProvider
	}
	if spec.Model == "" && spec.Provider == DefaultProvider {
		spec.Model = DefaultModel
	}
	effort, err := models.ParseReasoningEffort(c.Effort)
	if err != nil {
		return spec, fmt.Errorf("agent %s: %w", id, err)
	}
	spec.Effort = effort
	return spec, nil
}
