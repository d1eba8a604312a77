// Package persona defines the fixed conversational roles and their system
// instructions.
package persona

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role identifies the counterpart the assistant is talking to.
type Role int

// Known roles. The numeric values are part of the HTTP API.
const (
	RoleElder Role = iota + 1
	RoleGirlfriend
	RoleMentor
	RoleStranger
	RoleSpouse
)

// Persona binds a role to the instruction placed first in every prompt.
type Persona struct {
	ID          Role   `json:"id"`
	Label       string `json:"label"`
	Name        string `json:"name"`
	Instruction string `json:"-"`
}

var builtin = []Persona{
	{
		ID:          RoleElder,
		Label:       "elder",
		Name:        "长辈",
		Instruction: "你是一个情商极高的工科学生。你现在的对话对象是你的【长辈】。请保持尊敬、亲切的态度，并使用幽默、搞笑感来活跃气氛。回复要自然，不要太长。",
	},
	{
		ID:          RoleGirlfriend,
		Label:       "girlfriend",
		Name:        "女友",
		Instruction: "你是一个风趣幽默的工科学生。你现在的对话对象是你的【女友】。对话充满中国式幽默却又不失暧昧，适当反转。其他时候要有甜美的感觉。多用口语，少说教。",
	},
	{
		ID:          RoleMentor,
		Label:       "mentor",
		Name:        "导师",
		Instruction: "你是一个理工科研究生，情商很高，说话有分寸。你现在的对话对象是你的【导师】。整体风格要：尊敬、专业、礼貌为主，同时可以适度幽默、机智。回复要精炼。",
	},
	{
		ID:          RoleStranger,
		Label:       "stranger",
		Name:        "陌生人",
		Instruction: "你是一个机智、得体、有分寸感的工科学生。你现在的对话对象是你的【陌生人】。保持轻松、礼貌的态度，并使用高情商幽默来化解尴尬或拉近距离。",
	},
	{
		ID:          RoleSpouse,
		Label:       "spouse",
		Name:        "夫妻",
		Instruction: "你是一个情商在线、风趣暖心的伴侣。你现在的对话对象是你的【配偶】。对话充满生活烟火气，兼具幽默调侃与温柔包容。多些关心，少些大道理。",
	},
}

// Catalog is an immutable role table built once at startup.
type Catalog struct {
	byID  map[Role]Persona
	order []Role
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return newCatalog(builtin)
}

func newCatalog(personas []Persona) *Catalog {
	c := &Catalog{
		byID:  make(map[Role]Persona, len(personas)),
		order: make([]Role, 0, len(personas)),
	}
	for _, p := range personas {
		c.byID[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c
}

// Lookup resolves a role id from a request.
func (c *Catalog) Lookup(id int) (Persona, bool) {
	p, ok := c.byID[Role(id)]
	return p, ok
}

// List returns personas in role id order.
func (c *Catalog) List() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// fileConfig is the on-disk layout of a persona override file.
type fileConfig struct {
	Roles []struct {
		ID          int    `yaml:"id"`
		Instruction string `yaml:"instruction"`
	} `yaml:"roles"`
}

// LoadFile returns the built-in catalog with instructions replaced by the
// entries in the YAML file at path. Only known role ids may be overridden.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}

	personas := make([]Persona, len(builtin))
	copy(personas, builtin)
	index := make(map[Role]int, len(personas))
	for i, p := range personas {
		index[p.ID] = i
	}

	for _, entry := range fc.Roles {
		i, ok := index[Role(entry.ID)]
		if !ok {
			return nil, fmt.Errorf("persona file: unknown role id %d", entry.ID)
		}
		instruction := strings.TrimSpace(entry.Instruction)
		if instruction == "" {
			return nil, fmt.Errorf("persona file: empty instruction for role id %d", entry.ID)
		}
		personas[i].Instruction = instruction
		slog.Debug("Persona instruction overridden", "role", personas[i].Label, "path", path)
	}

	return newCatalog(personas), nil
}
