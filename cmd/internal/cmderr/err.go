package cmderr

// CmdErr wraps an error produced by command logic rather than by cobra's own
// flag/argument parsing, so the root command knows not to print usage text
// for it.
type CmdErr struct {
	Err error
}

func (a CmdErr) Error() string {
	return a.Err.Error()
}

// github.com/pkg/errors causer interface
func (a CmdErr) Cause() error {
	return a.Err
}

// github.com/pkg/errors Unwrap interface
func (a CmdErr) Unwrap() error {
	return a.Err
}
