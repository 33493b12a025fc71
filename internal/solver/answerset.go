package solver

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	jss "github.com/kaptinlin/jsonschema"

	"github.com/hexlite/hexlited/internal/model"
)

//go:embed answerset.schema.json
var answerSetSchema []byte

// Interpreter decodes result lines printed by the json output plugin.
type Interpreter struct {
	schema *jss.Schema
}

func NewInterpreter() (Interpreter, error) {
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(answerSetSchema)
	if err != nil {
		return Interpreter{}, fmt.Errorf("compiling answer set schema: %w", err)
	}
	return Interpreter{schema: schema}, nil
}

type jsonCost struct {
	Priority int `json:"priority"`
	Cost     int `json:"cost"`
}

type jsonAnswerSet struct {
	Cost     []jsonCost `json:"cost"`
	Stratoms []string   `json:"stratoms"`
}

// Decode converts one result line to an AnswerSet. An answer set without
// costs is known to be optimal.
func (i Interpreter) Decode(line []byte) (model.AnswerSet, error) {
	if !json.Valid(line) {
		return model.AnswerSet{}, fmt.Errorf("%w: not a JSON document: %s", model.ErrStreamDecode, excerpt(line))
	}

	res := i.schema.Validate(line)
	if !res.Valid {
		var errorMsgs []string
		for _, err := range res.Errors {
			errorMsgs = append(errorMsgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
		}
		slices.Sort(errorMsgs)
		return model.AnswerSet{}, fmt.Errorf("%w: %s: %s", model.ErrStreamDecode, strings.Join(errorMsgs, "; "), excerpt(line))
	}

	var jl jsonAnswerSet
	if err := json.Unmarshal(line, &jl); err != nil {
		return model.AnswerSet{}, fmt.Errorf("%w: %w", model.ErrStreamDecode, err)
	}

	ret := model.AnswerSet{
		Atoms: make([]string, 0, len(jl.Stratoms)),
	}
	for _, c := range jl.Cost {
		ret.Costs = append(ret.Costs, model.CostElement{
			Level: c.Priority,
			Cost:  c.Cost,
		})
	}
	if len(jl.Cost) == 0 {
		ret.IsKnownOptimal = true
	}
	ret.Atoms = append(ret.Atoms, jl.Stratoms...)
	return ret, nil
}

func excerpt(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return fmt.Sprintf("%q...", b[:limit])
	}
	return fmt.Sprintf("%q", b)
}
