package translate

import "errors"

// ErrInvalidJSON is returned when a provider's response cannot be parsed as
// either a JSON object or the newline id_N: text fallback format.
var ErrInvalidJSON = errors.New("translate: response is not valid JSON or newline id-keyed text")

// ErrKeyMismatch is returned when a provider's response keys don't exactly
// match the batch's input keys.
var ErrKeyMismatch = errors.New("translate: response keys do not match input keys")

// ErrContextTooLong describes a provider rejecting input that exceeds its
// context window. QwenMTDirectStrategy's context-length fallback does not
// match on this value; it recognizes such failures from the provider's error
// text (contextLengthHints).
var ErrContextTooLong = errors.New("translate: provider reported input too long for its context window")
