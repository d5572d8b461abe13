package skills

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// SkillFilename is the expected filename for skill definitions.
	SkillFilename = "SKILL.md"

	// FrontmatterDelimiter marks the beginning and end of YAML frontmatter.
	FrontmatterDelimiter = "---"
)

// ParseSkillFile parses a SKILL.md file and returns a Skill. plugin is the
// namespace to attach, or "" for a root-level skill.
func ParseSkillFile(path, plugin string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ParseSkill(data, filepath.Dir(path), plugin)
}

// ParseSkill parses SKILL.md content and returns a validated Skill.
func ParseSkill(data []byte, skillPath, plugin string) (*Skill, error) {
	frontmatter, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("split frontmatter: %w", err)
	}

	var skill Skill
	if err := yaml.Unmarshal(frontmatter, &skill); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if err := ValidateSkill(&skill); err != nil {
		return nil, err
	}

	skill.Body = strings.TrimSpace(string(body))
	skill.Path = skillPath
	skill.Plugin = plugin
	return &skill, nil
}

// splitFrontmatter separates YAML frontmatter from markdown body.
// Returns (frontmatter, body, error).
func splitFrontmatter(data []byte) ([]byte, []byte, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	// Find opening delimiter
	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	firstLine := strings.TrimSpace(scanner.Text())
	if firstLine != FrontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	// Read frontmatter until closing delimiter
	var frontmatterLines []string
	foundClosing := false
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == FrontmatterDelimiter {
			foundClosing = true
			break
		}
		frontmatterLines = append(frontmatterLines, line)
	}
	if !foundClosing {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	// Read remaining content as body
	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scanner error: %w", err)
	}

	frontmatter := []byte(strings.Join(frontmatterLines, "\n"))
	body := []byte(strings.Join(bodyLines, "\n"))
	return frontmatter, body, nil
}

// ValidateSkill checks a parsed skill's frontmatter for required fields
// and name format: non-empty, lowercase alphanumeric with hyphens.
func ValidateSkill(skill *Skill) error {
	if skill.Name == "" {
		return fmt.Errorf("name is required")
	}

	for _, r := range skill.Name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-') {
			return fmt.Errorf("name must be lowercase alphanumeric with hyphens: got %q", skill.Name)
		}
	}

	if skill.Description == "" {
		return fmt.Errorf("description is required")
	}

	return nil
}
