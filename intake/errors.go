package intake

import "errors"

// ErrIncompleteWrite is returned when a file keeps changing for longer
// than the stability timeout, i.e. the writer never finished.
var ErrIncompleteWrite = errors.New("intake: file did not stabilize before timeout")

// ErrMoveFailure is returned when a processed file cannot be relocated.
// The file is left in place for manual intervention.
var ErrMoveFailure = errors.New("intake: could not move file")
