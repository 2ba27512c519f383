package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Template names
const (
	StorySystem     = "story_system"
	StoryGeneration = "story_generation"
)

var varRegex = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateEngine manages prompt templates
type TemplateEngine struct {
	templates map[string]*Template
	mu        sync.RWMutex
}

// Template represents a prompt template with variables
type Template struct {
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Variables   []string `json:"variables"`
	Description string   `json:"description"`
}

// Vars holds variables for template rendering
type Vars map[string]string

// NewTemplateEngine creates a template engine preloaded with the story templates
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	for _, tmpl := range defaultTemplates() {
		e.RegisterTemplate(tmpl)
	}
	return e
}

// RegisterTemplate registers or replaces a template
func (e *TemplateEngine) RegisterTemplate(tmpl *Template) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(tmpl.Variables) == 0 {
		tmpl.Variables = ParseTemplateVariables(tmpl.Content)
	}
	e.templates[tmpl.Name] = tmpl
}

// GetTemplate retrieves a template by name
func (e *TemplateEngine) GetTemplate(name string) (*Template, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tmpl, ok := e.templates[name]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", name)
	}
	return tmpl, nil
}

// Render renders a template. Every declared variable must be present in vars.
func (e *TemplateEngine) Render(name string, vars Vars) (string, error) {
	tmpl, err := e.GetTemplate(name)
	if err != nil {
		return "", err
	}

	var missing []string
	out := varRegex.ReplaceAllStringFunc(tmpl.Content, func(match string) string {
		key := varRegex.FindStringSubmatch(match)[1]
		v, ok := vars[key]
		if !ok {
			missing = append(missing, key)
			return match
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: missing variables %s", name, strings.Join(missing, ", "))
	}
	return out, nil
}

// ParseTemplateVariables extracts variables from a template, sorted
func ParseTemplateVariables(content string) []string {
	matches := varRegex.FindAllStringSubmatch(content, -1)

	unique := make(map[string]bool)
	for _, m := range matches {
		unique[m[1]] = true
	}

	vars := make([]string, 0, len(unique))
	for v := range unique {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return vars
}

func defaultTemplates() []*Template {
	return []*Template{
		{
			Name:        StorySystem,
			Description: "System role for the story backend",
			Content: `You are an expert author of children's stories for readers aged 6 to 12.
You write warm, safe, age-appropriate stories with a clear beginning, middle and end.
You always answer with a single valid JSON object and nothing else.`,
		},
		{
			Name:        StoryGeneration,
			Description: "Instruction for one complete story with questions and illustration beats",
			Content: `Write an original children's story.

## Story settings
- Reading level: {{level}}
- Topic: {{topic}}
- Protagonist: a child named {{protagonist}}
- Companion: an animal friend named {{companion}}
- Exactly 3 paragraphs of about {{words}} words each, separated by a blank line
- Exactly {{questions}} multiple-choice comprehension questions with 4 options each
{{avoid}}
## Illustrations
Describe 3 illustrations, one per moment: "opening", "rising", "closing".
Illustration prompts must be in English, must not contain any character names,
and must describe characters generically (for example "a young girl", "a small brown dog").

## Output format
Return JSON with exactly these fields:
{
  "title": "string",
  "body": "paragraph 1\n\nparagraph 2\n\nparagraph 3",
  "characters": [
    {"name": "string", "description": "string", "role": "protagonist|secondary", "visualType": "boy|girl|dog|cat|rabbit|bird|bear|fox|panda|koala", "emoji": "string"}
  ],
  "questions": [
    {"question": "string", "options": ["a", "b", "c", "d"], "correctIndex": 0, "explanation": "string"}
  ],
  "illustrations": [
    {"moment": "opening", "prompt": "string", "caption": "string"}
  ]
}`,
		},
	}
}
