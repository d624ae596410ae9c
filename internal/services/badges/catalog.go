package badges

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed definitions.yaml
var embeddedDefinitions []byte

var ErrInvalidCatalog = errors.New("invalid badge catalog")

const (
	GroupAchievement = "achievement"
	GroupReferral    = "referral"
)

// Threshold is a badge's maxProgress: a positive count, or "all" which is
// met by any counter >= 1.
type Threshold struct {
	N   int64
	All bool
}

func (t *Threshold) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("maxProgress must be a scalar, line %d", node.Line)
	}

	if strings.EqualFold(node.Value, "all") {
		*t = Threshold{All: true}
		return nil
	}

	n, err := strconv.ParseInt(node.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("maxProgress %q, line %d: want integer or \"all\"", node.Value, node.Line)
	}

	*t = Threshold{N: n}

	return nil
}

func (t Threshold) MarshalYAML() (any, error) {
	if t.All {
		return "all", nil
	}

	return t.N, nil
}

// Met reports whether a counter value satisfies the threshold.
func (t Threshold) Met(counter int64) bool {
	if t.All {
		return counter >= 1
	}

	return counter >= t.N
}

func (t Threshold) String() string {
	if t.All {
		return "all"
	}

	return strconv.FormatInt(t.N, 10)
}

type Definition struct {
	Name        string    `yaml:"name" json:"name"`
	Icon        string    `yaml:"icon" json:"icon"`
	Requirement string    `yaml:"requirement" json:"requirement"`
	ProgressKey string    `yaml:"progressKey" json:"progressKey"`
	MaxProgress Threshold `yaml:"maxProgress" json:"-"`
	RewardCode  string    `yaml:"rewardCode,omitempty" json:"rewardCode,omitempty"`
	Group       string    `yaml:"-" json:"group"`
}

type catalogFile struct {
	Achievement []Definition `yaml:"achievement"`
	Referral    []Definition `yaml:"referral"`
}

// Catalog is the immutable badge table plus its progress-key index.
type Catalog struct {
	defs  []Definition
	byKey map[string][]Definition
}

// LoadCatalog reads path, or the embedded definitions when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return ParseCatalog(embeddedDefinitions)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read badge definitions: %w", err)
	}

	return ParseCatalog(raw)
}

// DefaultCatalog returns the embedded catalog. It panics on a broken
// embedded file, which a test catches first.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(embeddedDefinitions)
	if err != nil {
		panic(err)
	}

	return c
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile

	err := yaml.Unmarshal(raw, &f)
	if err != nil {
		return nil, fmt.Errorf("decode badge definitions: %w", err)
	}

	defs := make([]Definition, 0, len(f.Achievement)+len(f.Referral))
	for _, d := range f.Achievement {
		d.Group = GroupAchievement
		defs = append(defs, d)
	}
	for _, d := range f.Referral {
		d.Group = GroupReferral
		defs = append(defs, d)
	}

	return NewCatalog(defs)
}

// NewCatalog validates defs and builds the index.
func NewCatalog(defs []Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no definitions", ErrInvalidCatalog)
	}

	c := &Catalog{
		defs:  make([]Definition, 0, len(defs)),
		byKey: make(map[string][]Definition),
	}

	names := make(map[string]struct{}, len(defs))
	codes := make(map[string]string)

	for i, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		d.ProgressKey = strings.TrimSpace(d.ProgressKey)

		switch {
		case d.Name == "":
			return nil, fmt.Errorf("%w: definition %d has no name", ErrInvalidCatalog, i)
		case d.ProgressKey == "":
			return nil, fmt.Errorf("%w: %q has no progress key", ErrInvalidCatalog, d.Name)
		case !d.MaxProgress.All && d.MaxProgress.N <= 0:
			return nil, fmt.Errorf("%w: %q threshold must be positive", ErrInvalidCatalog, d.Name)
		}

		if _, dup := names[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate badge %q", ErrInvalidCatalog, d.Name)
		}
		names[d.Name] = struct{}{}

		if d.RewardCode != "" {
			if other, dup := codes[d.RewardCode]; dup {
				return nil, fmt.Errorf("%w: reward code %q on both %q and %q", ErrInvalidCatalog, d.RewardCode, other, d.Name)
			}
			codes[d.RewardCode] = d.Name
		}

		c.defs = append(c.defs, d)
		c.byKey[d.ProgressKey] = append(c.byKey[d.ProgressKey], d)
	}

	return c, nil
}

// ByKey lists the badges counting progressKey, in catalog order.
func (c *Catalog) ByKey(progressKey string) []Definition {
	return c.byKey[progressKey]
}

func (c *Catalog) HasKey(progressKey string) bool {
	_, ok := c.byKey[progressKey]
	return ok
}

// All returns a copy of every definition in catalog order.
func (c *Catalog) All() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)

	return out
}
