package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ashureev/diplobot/internal/domain"
	"gopkg.in/yaml.v3"
)

// Roster describes a multi-bot launch: which powers to run, with which
// models, in which game.
type Roster struct {
	GameID       string
	CreatorPower string
	Powers       []string
	Models       map[string]string
	Lockstep     bool
	StaggerDelay time.Duration
}

// DefaultRoster runs all seven powers with FRANCE creating the game.
func DefaultRoster() Roster {
	return Roster{
		CreatorPower: "FRANCE",
		Powers:       append([]string(nil), domain.StandardPowers...),
		Models:       map[string]string{},
		StaggerDelay: 500 * time.Millisecond,
	}
}

// ModelFor returns the model for power, or fallback.
func (r Roster) ModelFor(power, fallback string) string {
	if m := strings.TrimSpace(r.Models[domain.NormalizePower(power)]); m != "" {
		return m
	}
	return fallback
}

type rosterFile struct {
	GameID       string            `toml:"game_id" yaml:"game_id"`
	CreatorPower string            `toml:"creator_power" yaml:"creator_power"`
	Powers       []string          `toml:"powers" yaml:"powers"`
	Models       map[string]string `toml:"models" yaml:"models"`
	Lockstep     *bool             `toml:"lockstep" yaml:"lockstep"`
	StaggerDelay string            `toml:"stagger_delay" yaml:"stagger_delay"`
}

// LoadRoster reads a TOML or YAML roster, chosen by file extension. Keys
// absent from the file keep their DefaultRoster values.
func LoadRoster(path string) (Roster, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return loadRosterTOML(path)
	case ".yaml", ".yml":
		return loadRosterYAML(path)
	default:
		return Roster{}, fmt.Errorf("load roster: unsupported extension %q", filepath.Ext(path))
	}
}

func loadRosterTOML(path string) (Roster, error) {
	var raw rosterFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Roster{}, fmt.Errorf("load roster: %w", err)
	}
	defined := map[string]bool{}
	for _, key := range []string{"game_id", "creator_power", "powers", "models", "lockstep", "stagger_delay"} {
		defined[key] = meta.IsDefined(key)
	}
	return raw.apply(defined)
}

func loadRosterYAML(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("load roster: %w", err)
	}
	var raw rosterFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Roster{}, fmt.Errorf("load roster: %w", err)
	}
	defined := map[string]bool{
		"game_id":       raw.GameID != "",
		"creator_power": raw.CreatorPower != "",
		"powers":        raw.Powers != nil,
		"models":        raw.Models != nil,
		"lockstep":      raw.Lockstep != nil,
		"stagger_delay": raw.StaggerDelay != "",
	}
	return raw.apply(defined)
}

func (raw rosterFile) apply(defined map[string]bool) (Roster, error) {
	r := DefaultRoster()

	if defined["game_id"] {
		r.GameID = strings.TrimSpace(raw.GameID)
	}
	if defined["creator_power"] {
		if p := domain.NormalizePower(raw.CreatorPower); p != "" {
			r.CreatorPower = p
		}
	}
	if defined["powers"] {
		r.Powers = normalizePowers(raw.Powers)
	}
	if defined["models"] {
		for power, model := range raw.Models {
			r.Models[domain.NormalizePower(power)] = strings.TrimSpace(model)
		}
	}
	if defined["lockstep"] && raw.Lockstep != nil {
		r.Lockstep = *raw.Lockstep
	}
	if defined["stagger_delay"] {
		d, err := ParseDuration(raw.StaggerDelay)
		if err != nil {
			return Roster{}, fmt.Errorf("parse stagger_delay: %w", err)
		}
		r.StaggerDelay = d
	}

	if err := r.Validate(); err != nil {
		return Roster{}, err
	}
	return r, nil
}

// Validate rejects empty, duplicate or unknown powers.
func (r Roster) Validate() error {
	if len(r.Powers) == 0 {
		return fmt.Errorf("roster must list at least one power")
	}
	seen := make(map[string]bool, len(r.Powers))
	for _, p := range r.Powers {
		if !isStandardPower(p) {
			return fmt.Errorf("roster power %q is not a standard power", p)
		}
		if seen[p] {
			return fmt.Errorf("roster power %q listed twice", p)
		}
		seen[p] = true
	}
	if r.GameID == "" && !isStandardPower(r.CreatorPower) {
		return fmt.Errorf("creator_power %q is not a standard power", r.CreatorPower)
	}
	return nil
}

func normalizePowers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if p = domain.NormalizePower(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isStandardPower(p string) bool {
	for _, s := range domain.StandardPowers {
		if s == p {
			return true
		}
	}
	return false
}
