// Package outcome defines the result of running one script and the
// portable value shapes a harvested result binding is converted into.
//
// Engines convert their native values into the shapes below; serializers
// only ever see these shapes:
//
//	nil            no value
//	bool, int64, *big.Int, float64, string, []byte
//	[]any          list
//	Tuple          fixed-size sequence
//	Set            unordered collection
//	Map            key/value pairs in insertion order, keys of any shape
//	Opaque         engine value with no portable representation
package outcome

import (
	"fmt"
)

// ResultName is the binding a script sets to return a value
const ResultName = "_result_"

// SuccessMessage is the message of every successful outcome
const SuccessMessage = "success"

// NoValue is the result of a run that did not bind ResultName, or bound it
// to the engine's null value.
var NoValue any = nil

// Outcome is the result of attempting to run a script. All three fields
// are always meaningful.
type Outcome struct {
	Result  any
	Success bool
	Message string
}

// Succeeded returns a successful outcome carrying result
func Succeeded(result any) Outcome {
	return Outcome{Result: result, Success: true, Message: SuccessMessage}
}

// Failed returns a failed outcome. The result is always NoValue.
func Failed(format string, args ...any) Outcome {
	return Outcome{Result: NoValue, Success: false, Message: fmt.Sprintf(format, args...)}
}

// Tuple is a fixed-size sequence
type Tuple []any

// Set is an unordered collection of distinct elements
type Set []any

// Entry is one key/value pair of a Map
type Entry struct {
	Key   any
	Value any
}

// Map is a mapping that keeps insertion order and allows keys of any shape
type Map []Entry

// Get returns the value stored under key, compared with ==.
// Keys that are not comparable never match.
func (m Map) Get(key any) (any, bool) {
	for _, e := range m {
		if equalKeys(e.Key, key) {
			return e.Value, true
		}
	}
	return nil, false
}

func equalKeys(a, b any) (eq bool) {
	defer func() {
		if recover() != nil {
			eq = false
		}
	}()
	return a == b
}

// Opaque is an engine value with no portable representation
type Opaque struct {
	Type string
	Repr string
}

func (o Opaque) String() string {
	return fmt.Sprintf("<%s %s>", o.Type, o.Repr)
}
