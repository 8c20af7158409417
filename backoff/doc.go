// Package backoff computes successive retry delays for a single request.
//
// A Timer grows its delay exponentially from Initial by Growth on every
// advance, caps it at Max, and adds a random jitter of up to Jitter times the
// delay so that many clients failing together do not retry in lockstep.
//
// The first call to Next returns Initial unchanged; the n-th subsequent call
// returns a value in [Initial*Growth^n, Initial*Growth^n*(1+Jitter)), capped at
// Max.
//
// A Timer is owned by one request and is not safe for concurrent use.
package backoff
