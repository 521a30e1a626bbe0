package utils

import "io"

// maxDrain bounds how much of an unread body is consumed before closing so
// the underlying connection can be reused.
const maxDrain = 64 << 10

// Close closes c and ignores any error.
// Use for best-effort cleanup in defer where error handling is not critical.
func Close(c io.Closer) {
	_ = c.Close()
}

// DrainAndClose reads what is left of rc (up to a limit) and closes it.
// Use on HTTP response bodies whose content is not needed.
func DrainAndClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}
