package quiz

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed curriculum.yaml
var defaultCurriculum []byte

type Topic struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
}

// Review topics mix every unit of a grade, so their questions are shuffled.
func (t Topic) Review() bool {
	return strings.Contains(t.File, "review")
}

type Grade struct {
	Name   string  `yaml:"name"`
	Topics []Topic `yaml:"topics"`
}

type Curriculum struct {
	Grades []Grade `yaml:"grades"`
}

// Topics flattens the curriculum in menu order.
func (c Curriculum) Topics() []Topic {
	var out []Topic
	for _, g := range c.Grades {
		out = append(out, g.Topics...)
	}
	return out
}

func (c Curriculum) Find(file string) (Topic, bool) {
	for _, t := range c.Topics() {
		if t.File == file {
			return t, true
		}
	}
	return Topic{}, false
}

func DefaultCurriculum() Curriculum {
	c, err := ParseCurriculum(defaultCurriculum)
	if err != nil {
		panic(fmt.Sprintf("embedded curriculum: %v", err))
	}
	return c
}

// LoadCurriculum reads a curriculum file; an empty path means the built-in
// syllabus.
func LoadCurriculum(path string) (Curriculum, error) {
	if path == "" {
		return DefaultCurriculum(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Curriculum{}, fmt.Errorf("read curriculum: %w", err)
	}
	return ParseCurriculum(data)
}

func ParseCurriculum(data []byte) (Curriculum, error) {
	var c Curriculum
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Curriculum{}, fmt.Errorf("parse curriculum: %w", err)
	}
	for _, g := range c.Grades {
		for _, t := range g.Topics {
			if t.File == "" {
				return Curriculum{}, fmt.Errorf("topic %q in %q has no file", t.Name, g.Name)
			}
		}
	}
	return c, nil
}
