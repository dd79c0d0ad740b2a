package domain

// PingOutcome is the classified result of a single ping attempt.
// HTTPStatus is zero when the request failed before a response arrived.
type PingOutcome struct {
	Success     bool
	HTTPStatus  int
	ErrorDetail string
}
