package mq_test

import (
	"encoding/json"
	"testing"
	"time"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/errs"

	"github.com/stretchr/testify/require"
)

const validTaskBody = `{
	"id": 7,
	"name": "Tarefa Teste",
	"description": "Descrição tarefa",
	"observation": null,
	"hourlyRate": 20.0,
	"budget": 2000.0,
	"estimatedHours": 100,
	"active": true,
	"originProjectID": 1,
	"createdAt": "2026-10-01T10:00:00Z",
	"updatedAt": "2026-10-01T10:00:00Z"
}`

func TestDecodeTaskCreated_Valid(t *testing.T) {
	p, err := mqcontracts.DecodeTaskCreated([]byte(validTaskBody))
	require.NoError(t, err)
	require.Equal(t, int64(7), p.ID)
	require.Equal(t, "Tarefa Teste", p.Name)
	require.Nil(t, p.Observation)
	require.Equal(t, 20.0, p.HourlyRate)
	require.Equal(t, 2000.0, p.Budget)
	require.Equal(t, 100, p.EstimatedHours)
	require.True(t, p.Active)
	require.Equal(t, int64(1), p.OriginProjectID)
	require.Equal(t, time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC), p.CreatedAt.UTC())
}

func TestDecodeTaskCreated_RoundTrip(t *testing.T) {
	obs := "urgent"
	in := mqcontracts.TaskCreatedPayload{
		ID:              3,
		Name:            "Deploy",
		Description:     "Deploy the stack",
		Observation:     &obs,
		HourlyRate:      55.5,
		Budget:          900,
		EstimatedHours:  12,
		Active:          false,
		OriginProjectID: 9,
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt:       time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
	}
	body, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := mqcontracts.DecodeTaskCreated(body)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeTaskCreated_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":        `{"id":`,
		"unknown field":   `{"id":1,"name":"abc","hourlyRate":1,"budget":1,"estimatedHours":1,"active":true,"originProjectID":1,"projectName":"x"}`,
		"missing name":    `{"id":1,"hourlyRate":1,"budget":1,"estimatedHours":1,"active":true,"originProjectID":1}`,
		"missing origin":  `{"id":1,"name":"abc","hourlyRate":1,"budget":1,"estimatedHours":1,"active":true}`,
		"missing active":  `{"id":1,"name":"abc","hourlyRate":1,"budget":1,"estimatedHours":1,"originProjectID":1}`,
		"wrong type":      `{"id":1,"name":"abc","hourlyRate":"1","budget":1,"estimatedHours":1,"active":true,"originProjectID":1}`,
		"trailing object": `{"id":1,"name":"abc","hourlyRate":1,"budget":1,"estimatedHours":1,"active":true,"originProjectID":1}{}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := mqcontracts.DecodeTaskCreated([]byte(body))
			require.ErrorIs(t, err, errs.ErrMalformedEvent)
		})
	}
}
