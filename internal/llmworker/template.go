package llmworker

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/tkubica12/scalable-ai-chat/internal/memoryapi"
)

//go:embed templates/system_prompt.tmpl
var templateFS embed.FS

var systemPromptTemplate = template.Must(template.New("system_prompt.tmpl").
	Funcs(template.FuncMap{"join": func(items []string) string { return strings.Join(items, ", ") }}).
	ParseFS(templateFS, "templates/system_prompt.tmpl"))

// promptData adapts memoryapi.UserMemory with a HasAny helper the template
// uses to decide between the "here's what I remember" and "no memory yet" branches.
type promptData struct {
	memoryapi.UserMemory
}

func (d promptData) HasAny() bool {
	return len(d.OutputPreferences) > 0 || len(d.PersonalPreferences) > 0 || len(d.AssistantPreferences) > 0 ||
		len(d.Knowledge) > 0 || len(d.Interests) > 0 || len(d.Dislikes) > 0 ||
		len(d.FamilyAndFriends) > 0 || len(d.WorkProfile) > 0 || len(d.Goals) > 0
}

// renderSystemPrompt renders the pinned system message for a new conversation
// head from the user's consolidated memory profile.
func renderSystemPrompt(mem memoryapi.UserMemory) (string, error) {
	var buf bytes.Buffer
	if err := systemPromptTemplate.Execute(&buf, promptData{mem}); err != nil {
		return "", fmt.Errorf("llmworker: render system prompt: %w", err)
	}
	return buf.String(), nil
}
