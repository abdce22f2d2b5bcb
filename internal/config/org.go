package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/overseer/internal/graph"
	"github.com/ShayCichocki/overseer/pkg/models"
)

// OrgSeed is the organization definition loaded from a YAML file: the
// permanent agents and the initial task backlog.
type OrgSeed struct {
	Agents  []AgentSeed `yaml:"agents"`
	Backlog []TaskSeed  `yaml:"backlog"`
}

// AgentSeed describes one permanent agent.
type AgentSeed struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Role          string `yaml:"role"`
	Team          string `yaml:"team"`
	ManagerOfTeam string `yaml:"manager_of_team"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TaskSeed describes one backlog task.
type TaskSeed struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Description    string   `yaml:"description"`
	Type           string   `yaml:"type"`
	Priority       int      `yaml:"priority"`
	Project        string   `yaml:"project"`
	AssignedAgent  string   `yaml:"assigned_agent"`
	AssignedTeam   string   `yaml:"assigned_team"`
	AffectedFiles  []string `yaml:"affected_files"`
	DependsOn      []string `yaml:"depends_on"`
	RequiredSkills []string `yaml:"required_skills"`
	Complexity     string   `yaml:"complexity"`
	StoryPoints    int      `yaml:"story_points"`
}

// LoadOrgSeed parses and validates an organization seed file.
func LoadOrgSeed(path string) (*OrgSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read org seed: %w", err)
	}
	seed := &OrgSeed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("parse org seed %s: %w", path, err)
	}
	if err := seed.validate(); err != nil {
		return nil, fmt.Errorf("org seed %s: %w", path, err)
	}
	return seed, nil
}

func (s *OrgSeed) validate() error {
	names := make(map[string]bool, len(s.Agents))
	for i, a := range s.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent %d: name is required", i)
		}
		if names[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		names[a.Name] = true
	}
	deps := graph.New()
	for i, t := range s.Backlog {
		if t.Title == "" {
			return fmt.Errorf("backlog task %d: title is required", i)
		}
		if t.Priority < 0 || t.Priority > 4 {
			return fmt.Errorf("backlog task %q: priority %d out of range", t.Title, t.Priority)
		}
		if t.ID != "" {
			deps.Add(t.ID, t.DependsOn)
		}
	}
	// Dependencies pointing outside the seed are allowed; they may name
	// tasks already in the store.
	if err := deps.Validate(); err != nil {
		return fmt.Errorf("backlog dependencies: %w", err)
	}
	return nil
}

// MaterializeAgents converts agent seeds into permanent agent records,
// generating ids where missing.
func (s *OrgSeed) MaterializeAgents(now time.Time) []models.Agent {
	agents := make([]models.Agent, 0, len(s.Agents))
	for _, a := range s.Agents {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		maxConcurrent := a.MaxConcurrent
		if maxConcurrent <= 0 {
			maxConcurrent = 1
		}
		agents = append(agents, models.Agent{
			ID:            id,
			Name:          a.Name,
			Role:          a.Role,
			Status:        models.AgentStatusIdle,
			TeamID:        a.Team,
			ManagerOfTeam: a.ManagerOfTeam,
			Lifecycle:     models.LifecyclePermanent,
			MaxConcurrent: maxConcurrent,
			CreatedAt:     now,
		})
	}
	return agents
}

// MaterializeBacklog converts task seeds into ready task records.
func (s *OrgSeed) MaterializeBacklog(now time.Time) []models.Task {
	tasks := make([]models.Task, 0, len(s.Backlog))
	for _, t := range s.Backlog {
		id := t.ID
		if id == "" {
			id = uuid.New().String()
		}
		taskType := models.TaskType(t.Type)
		if t.Type == "" {
			taskType = models.TaskTypeImplementation
		}
		priority := models.Priority(t.Priority)
		if t.Priority == 0 {
			priority = models.PriorityP3
		}
		tasks = append(tasks, models.Task{
			ID:                  id,
			Title:               t.Title,
			Description:         t.Description,
			Type:                taskType,
			Status:              models.TaskStatusReady,
			Priority:            priority,
			Project:             t.Project,
			AssignedAgent:       t.AssignedAgent,
			AssignedTeam:        t.AssignedTeam,
			AffectedFiles:       t.AffectedFiles,
			DependsOn:           t.DependsOn,
			RequiredSkills:      t.RequiredSkills,
			EstimatedComplexity: t.Complexity,
			StoryPoints:         t.StoryPoints,
			CreatedAt:           now,
		})
	}
	return tasks
}
