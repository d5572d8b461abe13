// Package skills discovers and invokes markdown-defined skills: documents
// whose YAML frontmatter declares a name, description, the tools they use,
// and the positional arguments their body's {name} placeholders expect.
package skills

// Arg is one declared positional argument of a skill.
type Arg struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// Skill is a discovered skill: its declared metadata plus its markdown
// body, not yet substituted with any invocation's arguments.
type Skill struct {
	// Name is the skill's own identifier, without any plugin prefix.
	Name string `yaml:"name"`

	Description string   `yaml:"description"`
	UsesTools   []string `yaml:"uses_tools"`
	Args        []Arg    `yaml:"args"`

	// Body is the markdown content following the frontmatter, with
	// {name} placeholders not yet substituted.
	Body string `yaml:"-"`

	// Plugin is the namespace this skill was discovered under, or ""
	// for a skill registered directly at the registry root.
	Plugin string `yaml:"-"`

	// Path is the directory the skill was loaded from.
	Path string `yaml:"-"`
}

// QualifiedName returns "plugin:name" for a plugin-namespaced skill, or
// just Name for one registered at the registry root.
func (s *Skill) QualifiedName() string {
	if s.Plugin == "" {
		return s.Name
	}
	return s.Plugin + ":" + s.Name
}
