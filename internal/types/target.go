package types

import "strings"

// resolved invocation of the program under test, reused read-only for every mutant
type TargetCommand struct {
	Name string   `json:"name"` // command as given on the command line
	Argv []string `json:"argv"` // full argv, including the shell wrapper
	Dir  string   `json:"dir"`  // working directory of the child
}

func (t TargetCommand) String() string {
	return "[" + strings.Join(t.Argv, " ") + "]"
}
