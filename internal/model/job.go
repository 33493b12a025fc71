package model

// SolverJob is the inbound request: a program in the solver's input language
// and the parameters of its run.
type SolverJob struct {
	Program    string     `json:"program"`
	Parameters Parameters `json:"parameters"`
}

type Parameters struct {
	NumberOfAnswers          int  `json:"number_of_answers"`
	ReturnOnlyOptimalAnswers bool `json:"return_only_optimal_answers"`
	// AdditionalParameters become command line arguments in this order,
	// unless the key has the "file:" prefix.
	AdditionalParameters []KeyValuePair `json:"additional_parameters,omitempty"`
}

type KeyValuePair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type CostElement struct {
	Level int `json:"level"`
	Cost  int `json:"cost"`
}

// AnswerSet is one model reported by the solver.
type AnswerSet struct {
	Atoms          []string      `json:"atoms"`
	Costs          []CostElement `json:"costs,omitempty"`
	IsKnownOptimal bool          `json:"is_known_optimal"`
}

type Description struct {
	Code     int      `json:"code"`
	Success  bool     `json:"success"`
	Messages []string `json:"messages,omitempty"`
}

// SolveResult is always returned to the caller, failures are reported
// through Description.
type SolveResult struct {
	Answers     []AnswerSet `json:"answers,omitempty"`
	Description Description `json:"description"`
}
