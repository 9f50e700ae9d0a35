package engine

import (
	"math/big"
	"regexp"
)

// importedSuffix matches names produced by NextName.
var importedSuffix = regexp.MustCompile(`^(.* - imported) \(([0-9]+)\)$`)

// NextName derives a collision-avoiding name.
//
//	"MyScript"                  -> "MyScript - imported (1)"
//	"MyScript - imported (1)"   -> "MyScript - imported (2)"
//	"MyScript - imported (99)"  -> "MyScript - imported (100)"
//	"MyScript - imported (1) x" -> "MyScript - imported (1) x - imported (1)"
//
// Counters of any length are incremented exactly.
func NextName(name string) string {
	m := importedSuffix.FindStringSubmatch(name)
	if m == nil {
		return name + " - imported (1)"
	}
	n, ok := new(big.Int).SetString(m[2], 10)
	if !ok {
		return name + " - imported (1)"
	}
	n.Add(n, big.NewInt(1))
	return m[1] + " (" + n.String() + ")"
}
