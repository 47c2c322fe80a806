package agent

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.md
var defaultPrompts embed.FS

// Template names rendered by the roles.
const (
	PromptPlanner             = "planner"
	PromptSupervisorBreakdown = "supervisor_breakdown"
	PromptSupervisorProgress  = "supervisor_progress"
	PromptRoleCreator         = "role_creator"
)

const promptSeparator = "\n\n---\n\n"

// PromptManager loads prompt files, preferring Directory over the built-in set.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

func (pm *PromptManager) read(name string) (string, error) {
	if pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read prompt file %s: %w", name, err)
		}
	}
	data, err := defaultPrompts.ReadFile("prompts/" + name)
	if err != nil {
		return "", fmt.Errorf("unknown prompt %s: %w", name, err)
	}
	return string(data), nil
}

// System returns the shared identity followed by the role's own instructions.
func (pm *PromptManager) System(role string) (string, error) {
	var contents []string
	for _, name := range []string{"identity.md", role + "_system.md"} {
		text, err := pm.read(name)
		if err != nil {
			return "", err
		}
		if s := strings.TrimSpace(text); s != "" {
			contents = append(contents, s)
		}
	}
	return strings.Join(contents, promptSeparator), nil
}

// Render executes the named template with data.
func (pm *PromptManager) Render(name string, data any) (string, error) {
	text, err := pm.read(name + ".md")
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(name).Funcs(promptFuncs).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
