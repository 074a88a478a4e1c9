package consumer

import "fmt"

// Kind classifies the outcome of applying one message.
type Kind int

const (
	KindAck Kind = iota
	KindRetry
	KindDeadLetter
)

func (k Kind) String() string {
	switch k {
	case KindAck:
		return "ack"
	case KindRetry:
		return "retry"
	case KindDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what a handler reports back to the delivery loop. Handlers never
// acknowledge or reject messages themselves.
type Result struct {
	Kind   Kind
	Reason string
	Err    error
}

// Ack means the effect is done (or was already done).
func Ack() Result { return Result{Kind: KindAck} }

// Skip acknowledges a message that was deliberately not applied.
func Skip(reason string) Result { return Result{Kind: KindAck, Reason: reason} }

// Retry means the failure is transient and the message should be applied again.
func Retry(err error) Result { return Result{Kind: KindRetry, Reason: "transient", Err: err} }

// DeadLetter means the message can never be applied.
func DeadLetter(reason string, err error) Result {
	return Result{Kind: KindDeadLetter, Reason: reason, Err: err}
}

// Action is what the delivery loop does with a message.
type Action int

const (
	ActionCommit Action = iota
	ActionRedeliver
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionCommit:
		return "commit"
	case ActionRedeliver:
		return "redeliver"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decide maps a result to an action. attempt is 1-based; a retryable failure
// on the last allowed attempt is dead-lettered.
func Decide(r Result, attempt, maxAttempts int) Action {
	switch r.Kind {
	case KindAck:
		return ActionCommit
	case KindRetry:
		if attempt < maxAttempts {
			return ActionRedeliver
		}
		return ActionDeadLetter
	default:
		return ActionDeadLetter
	}
}
