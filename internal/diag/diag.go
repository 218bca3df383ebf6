// Package diag formats errors for the diagnostic stream.
package diag

import (
	"errors"
	"fmt"
	"strings"
)

// Message returns prefix + err. With verbose set it appends one line per
// wrapped layer of err, outermost first.
func Message(prefix string, err error, verbose bool) string {
	msg := prefix + err.Error()
	if !verbose {
		return msg
	}
	return msg + "\n" + Detail(err)
}

func Detail(err error) string {
	var b strings.Builder
	b.WriteString("Error chain:")
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "\n  %d: %T: %s", depth, e, e.Error())
		depth++
	}
	return b.String()
}
