package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"
)

func ptr[T any](v T) *T { return &v }

func validInput() ProjectInput {
	return ProjectInput{
		Name:           ptr("Projeto Teste"),
		Description:    ptr("Descrição projeto"),
		TotalCost:      ptr(1000.0),
		EstimatedHours: ptr(100),
		Budget:         ptr(5000.0),
		Active:         ptr(true),
	}
}

func TestValidateCreate(t *testing.T) {
	require.NoError(t, validInput().ValidateCreate())

	cases := map[string]func(*ProjectInput){
		"missing name":        func(in *ProjectInput) { in.Name = nil },
		"short name":          func(in *ProjectInput) { in.Name = ptr("P1") },
		"short description":   func(in *ProjectInput) { in.Description = ptr("abc") },
		"missing total cost":  func(in *ProjectInput) { in.TotalCost = nil },
		"missing hours":       func(in *ProjectInput) { in.EstimatedHours = nil },
		"missing budget":      func(in *ProjectInput) { in.Budget = nil },
		"missing active":      func(in *ProjectInput) { in.Active = nil },
		"progress over 100":   func(in *ProjectInput) { in.Progress = ptr(101) },
		"negative total cost": func(in *ProjectInput) { in.TotalCost = ptr(-1.0) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			require.ErrorIs(t, in.ValidateCreate(), errs.ErrValidation)
		})
	}
}

func TestApply_KeepsIdentityAndCollections(t *testing.T) {
	p := NewProject(validInput())
	p.ID, p.Version = 4, 2
	p.Tasks = append(p.Tasks, Task{ID: 9})

	p.Apply(ProjectInput{Client: ptr("ACME"), Active: ptr(false)})

	require.Equal(t, int64(4), p.ID)
	require.Equal(t, int64(2), p.Version)
	require.Equal(t, "ACME", *p.Client)
	require.False(t, p.Active)
	require.Equal(t, "Projeto Teste", p.Name)
	require.True(t, p.HasTask(9))
	require.False(t, p.HasTask(10))
}

func TestDependsOn(t *testing.T) {
	p := Project{RelatedProjects: []RelatedProject{{ProjectID: 2, TargetProjectID: 1}}}
	require.True(t, p.DependsOn(1))
	require.False(t, p.DependsOn(2))
}

func TestTaskFromPayload(t *testing.T) {
	obs := "note"
	task := TaskFromPayload(mqcontracts.TaskCreatedPayload{ID: 7, Name: "Tarefa Teste", Observation: &obs, OriginProjectID: 1})
	require.Equal(t, int64(7), task.ID)
	require.Equal(t, int64(1), task.OriginProjectID)
	require.Equal(t, "note", *task.Observation)
}
