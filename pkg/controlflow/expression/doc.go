// Package expression evaluates the boolean conditions guarding conditional
// blocks.
//
// Conditions are expr-lang expressions evaluated against the variables
// visible at the point the block is reached:
//
//	__loop_iteration > 1
//	logged_in && retries < 3
//	has(tags, "vip")
//	"ok" in statuses
//
// Compiled programs are cached, so a condition inside a loop is compiled once.
// expr reserves "contains" as a string operator; use "in" or has() for
// collection membership.
package expression
