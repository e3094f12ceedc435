package util

import (
	"fmt"
)

// Assert panics when cond does not hold. Used for precondition violations,
// which are programmer errors rather than recoverable runtime conditions.
func Assert(cond bool, o ...interface{}) {
	if !cond {
		panic(fmt.Sprint(o...))
	}
}

func Assertf(cond bool, fmtstr string, o ...interface{}) {
	if !cond {
		panic(fmt.Sprintf(fmtstr, o...))
	}
}
