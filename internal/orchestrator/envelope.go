package orchestrator

import (
	"github.com/normanking/notionqa/internal/execution"
)

// Source names the path that produced an answer.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// NoResult is the answer used when a remote execution completes without a result.
const NoResult = "No result available"

// Envelope is the uniform response returned for every question. Exactly one
// of Answer and Error is set.
type Envelope struct {
	Success     bool   `json:"success"`
	Answer      string `json:"answer,omitempty"`
	Error       string `json:"error,omitempty"`
	Source      Source `json:"source"`
	ExecutionID string `json:"execution_id,omitempty"`
	Status      string `json:"status,omitempty"`
}

func succeeded(source Source, answer string) Envelope {
	return Envelope{Success: true, Answer: answer, Source: source}
}

func failed(source Source, msg string) Envelope {
	if msg == "" {
		msg = "unknown error"
	}
	return Envelope{Success: false, Error: msg, Source: source}
}

// Status reports whether the execution backend is reachable.
type Status struct {
	Backend   string                     `json:"backend"`
	Connected bool                       `json:"connected"`
	Units     []execution.UnitDescriptor `json:"units,omitempty"`
	Recent    []execution.ExecutionUnit  `json:"recent,omitempty"`
	Error     string                     `json:"error,omitempty"`
}
