package utils

type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// IsPermanent reports whether err (or anything it wraps) declares itself non-retryable.
func IsPermanent(err error) bool {
	type permanent interface {
		IsPermanent() bool
	}
	for err != nil {
		if p, ok := err.(permanent); ok && p.IsPermanent() {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
