package pipeline

import (
	"regexp"
	"strings"

	"github.com/extremecoder-rgb/JeevanSetu/internal/models"
	"github.com/extremecoder-rgb/JeevanSetu/internal/report"
	"github.com/extremecoder-rgb/JeevanSetu/internal/tools"
)

var placeholder = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)\}`)

// Interpolate replaces {name} placeholders with input values. Unknown
// placeholders are left as written.
func Interpolate(text string, inputs map[string]string) string {
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		if v, ok := inputs[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// BuildPrompt assembles the full model prompt for a task.
func BuildPrompt(task TaskSpec, agent models.AgentSpec, rc *RunContext, obs []tools.Observation) string {
	inputs := rc.Inputs()
	var b strings.Builder

	b.WriteString("You are the ")
	b.WriteString(agent.Title)
	b.WriteString(".\nGoal: ")
	b.WriteString(Interpolate(agent.Objective, inputs))
	if agent.Persona != "" {
		b.WriteString("\n\n")
		b.WriteString(Interpolate(strings.TrimSpace(agent.Persona), inputs))
	}

	b.WriteString("\n\n---\nTask:\n")
	b.WriteString(strings.TrimSpace(Interpolate(task.Description, inputs)))

	if len(obs) > 0 {
		b.WriteString("\n\n---\nTool results:\n")
		for _, o := range obs {
			b.WriteString(o.String())
			b.WriteString("\n\n")
		}
	}

	if prior := rc.Render(); prior != "" {
		b.WriteString("\n\n---\nOutputs of previous tasks:\n")
		b.WriteString(prior)
	}

	if task.ExpectedOutput != "" {
		b.WriteString("\n\n---\nExpected output: ")
		b.WriteString(strings.TrimSpace(Interpolate(task.ExpectedOutput, inputs)))
	}

	b.WriteString("\n\n---\nIMPORTANT: Respond with JSON only, matching this ")
	b.WriteString(string(task.Schema))
	b.WriteString(" format. Do not add fields.\n")
	b.WriteString(report.Instructions(task.Schema))
	b.WriteString("Example:\n```json\n")
	b.WriteString(report.Example(task.Schema))
	b.WriteString("\n```\n")
	return b.String()
}
