package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/overseer/pkg/models"
)

// maxLayerLen caps each prompt layer so one oversized section cannot crowd
// out the task detail.
const maxLayerLen = 4000

// PromptLayers holds the static context layers composed into every prompt.
type PromptLayers struct {
	// OrgPolicy is organization-wide guidance prepended to every prompt.
	OrgPolicy string
	// TeamCharter describes the agent's team conventions.
	TeamCharter string
	// RoleGuide describes how the agent's role should approach work.
	RoleGuide string
}

// composePrompt assembles the layered prompt: organization policy, team,
// role, agent identity, prior artifacts, then the task itself. Each layer is
// truncated independently.
func composePrompt(layers PromptLayers, agent *models.Agent, task *models.Task, artifacts []string) string {
	var sb strings.Builder

	writeLayer(&sb, "Organization Policy", layers.OrgPolicy)
	writeLayer(&sb, "Team", layers.TeamCharter)
	writeLayer(&sb, "Role", layers.RoleGuide)

	identity := fmt.Sprintf("You are %s, a %s agent.", agent.Name, agent.Role)
	if agent.IsManager() {
		identity += fmt.Sprintf(" You manage team %s.", agent.ManagerOfTeam)
	}
	writeLayer(&sb, "Identity", identity)

	if len(artifacts) > 0 {
		var arts strings.Builder
		for i, a := range artifacts {
			arts.WriteString(fmt.Sprintf("### Prior result %d\n%s\n\n", i+1, a))
		}
		writeLayer(&sb, "Recent Work", arts.String())
	}

	var td strings.Builder
	td.WriteString("Task ID: " + task.ID + "\n")
	td.WriteString("Title: " + task.Title + "\n")
	if task.Description != "" {
		td.WriteString("\nDescription:\n" + task.Description + "\n")
	}
	if len(task.AffectedFiles) > 0 {
		td.WriteString("\nYou MUST only create or modify these files:\n")
		for _, f := range task.AffectedFiles {
			td.WriteString(fmt.Sprintf("- `%s`\n", f))
		}
	}
	if task.Status == models.TaskStatusInReview {
		td.WriteString("\nThis is a REVIEW pass: inspect the completed subtasks' results " +
			"and either accept the work or describe what must change.\n")
	}
	td.WriteString("\nComplete this task. When finished, summarize what was done.\n")
	writeLayer(&sb, "Task", td.String())

	return sb.String()
}

// writeLayer appends one truncated section. Empty layers are skipped.
func writeLayer(sb *strings.Builder, title, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	if len(body) > maxLayerLen {
		body = body[:maxLayerLen] + "\n[truncated]"
	}
	sb.WriteString("## " + title + "\n")
	sb.WriteString(body)
	sb.WriteString("\n\n")
}
