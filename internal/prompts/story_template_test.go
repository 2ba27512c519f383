package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storyVars() Vars {
	return Vars{
		"level":       "basic",
		"topic":       "friendship",
		"protagonist": "Emma",
		"companion":   "Toby",
		"words":       "40",
		"questions":   "3",
		"avoid":       "",
	}
}

func TestRenderStoryGeneration(t *testing.T) {
	e := NewTemplateEngine()

	out, err := e.Render(StoryGeneration, storyVars())
	require.NoError(t, err)

	assert.Contains(t, out, "Reading level: basic")
	assert.Contains(t, out, "a child named Emma")
	assert.Contains(t, out, "Exactly 3 multiple-choice")
	assert.NotContains(t, out, "{{")
}

func TestRenderMissingVariable(t *testing.T) {
	e := NewTemplateEngine()
	vars := storyVars()
	delete(vars, "topic")

	_, err := e.Render(StoryGeneration, vars)
	assert.ErrorContains(t, err, "topic")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := NewTemplateEngine().Render("nope", nil)
	assert.Error(t, err)
}

func TestRegisterTemplateParsesVariables(t *testing.T) {
	e := NewTemplateEngine()
	e.RegisterTemplate(&Template{Name: "t", Content: "{{b}} and {{a}} and {{b}}"})

	tmpl, err := e.GetTemplate("t")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tmpl.Variables)

	out, err := e.Render("t", Vars{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, "2 and 1 and 2", out)
}
