package namespace

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestFilenames are the project-manifest files checked, in order, in a
// candidate project root.
var ManifestFilenames = []string{".memento.yaml", ".memento.yml", "MEMENTO.md", "README.md"}

// Manifest carries the optional name/description override a project can
// declare for itself. Every field is tolerant of absence: a manifest file
// with none of the recognized shapes still parses successfully with
// an empty Manifest.
type Manifest struct {
	Name        string
	Description string
}

// frontmatter is the YAML shape recognized at the top of a manifest file,
// delimited by "---" lines, e.g.:
//
//	---
//	name: my-project
//	description: a short description
//	---
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ParseManifest looks for the first manifest file present in root and
// parses it tolerantly: a YAML frontmatter block takes priority, falling
// back to the first top-level Markdown heading for Name and the first
// non-empty paragraph after it for Description. Partial content is
// accepted — a file with a heading but no frontmatter and no paragraph
// still yields a Name. A .memento.yaml/.memento.yml file without "---"
// delimiters is also read as a plain YAML document of the same shape.
func ParseManifest(root string) (Manifest, error) {
	for _, name := range ManifestFilenames {
		path := filepath.Join(root, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			if _, _, ok := extractFrontmatter(string(data)); !ok {
				var fm frontmatter
				if yaml.Unmarshal(data, &fm) == nil && (fm.Name != "" || fm.Description != "") {
					return Manifest{Name: fm.Name, Description: fm.Description}, nil
				}
			}
		}
		return parseManifestContent(string(data)), nil
	}
	return Manifest{}, nil
}

func parseManifestContent(content string) Manifest {
	if fm, rest, ok := extractFrontmatter(content); ok {
		m := Manifest{Name: fm.Name, Description: fm.Description}
		if m.Name != "" {
			return m
		}
		// Frontmatter present but missing a name: fall through to heading
		// extraction over the remaining body.
		heading, paragraph := extractHeadingAndParagraph(rest)
		if m.Name == "" {
			m.Name = heading
		}
		if m.Description == "" {
			m.Description = paragraph
		}
		return m
	}

	heading, paragraph := extractHeadingAndParagraph(content)
	return Manifest{Name: heading, Description: paragraph}
}

// extractFrontmatter pulls a leading "---\n...\n---" YAML block off
// content. ok is false when no well-formed frontmatter block is found, in
// which case the caller falls back to heading/paragraph extraction over
// the whole content.
func extractFrontmatter(content string) (frontmatter, string, bool) {
	trimmed := strings.TrimLeft(content, "\ufeff \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return frontmatter{}, content, false
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return frontmatter{}, content, false
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return frontmatter{}, content, false
	}
	block := strings.Join(lines[1:end], "\n")
	rest := strings.Join(lines[end+1:], "\n")

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		// Tolerant parser: malformed YAML inside the block still yields an
		// empty frontmatter rather than failing the whole manifest parse.
		return frontmatter{}, rest, true
	}
	return fm, rest, true
}

// extractHeadingAndParagraph scans content line by line for the first
// top-level Markdown heading ("# Title") and the first non-empty
// paragraph line after it.
func extractHeadingAndParagraph(content string) (heading, paragraph string) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	sawHeading := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !sawHeading {
			if strings.HasPrefix(line, "# ") {
				heading = strings.TrimSpace(strings.TrimPrefix(line, "# "))
				sawHeading = true
			}
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paragraph = line
		break
	}
	return heading, paragraph
}
