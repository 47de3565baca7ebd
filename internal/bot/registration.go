package bot

import (
	"errors"

	"github.com/ahmetcoskunkizilkaya/subgate/internal/services"
)

// State is a step of the registration dialogue.
type State int

const (
	StateIdle State = iota
	StateAwaitingName
	StateAwaitingPhone
	StateAwaitingEmail
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingName:
		return "awaiting_name"
	case StateAwaitingPhone:
		return "awaiting_phone"
	case StateAwaitingEmail:
		return "awaiting_email"
	case StateComplete:
		return "complete"
	}
	return "unknown"
}

// Draft collects the profile fields while the dialogue runs.
type Draft struct {
	FullName string
	Phone    string
	Email    string
}

// Step is the outcome of feeding one input to the dialogue. Err is set when
// the input was rejected; State then stays where it was.
type Step struct {
	State State
	Draft Draft
	Reply string
	Err   error
}

const (
	promptName     = "Let's get you registered. What is your full name?"
	promptPhone    = "Thanks! Now send your phone number, e.g. +79991234567."
	promptEmail    = "Almost done. What is your email address?"
	replyComplete  = "Registration complete. Use /buy to see the plans."
	replyBadName   = "Please send your name as text."
	replyBadPhone  = "That doesn't look like a phone number. Send 7 to 15 digits, optionally starting with +."
	replyBadEmail  = "That doesn't look like an email address. Please try again."
	replyRestarted = "You are already registered. Send /start to update your details."
)

// Transition advances the registration dialogue by one input. It performs no
// I/O; the caller persists the draft once State is StateComplete.
func Transition(state State, draft Draft, input string) Step {
	switch state {
	case StateIdle:
		return Step{State: StateAwaitingName, Draft: Draft{}, Reply: promptName}

	case StateAwaitingName:
		name, err := services.ValidateName(input)
		if err != nil {
			return Step{State: state, Draft: draft, Reply: replyBadName, Err: err}
		}
		draft.FullName = name
		return Step{State: StateAwaitingPhone, Draft: draft, Reply: promptPhone}

	case StateAwaitingPhone:
		phone, err := services.ValidatePhone(input)
		if err != nil {
			return Step{State: state, Draft: draft, Reply: replyBadPhone, Err: err}
		}
		draft.Phone = phone
		return Step{State: StateAwaitingEmail, Draft: draft, Reply: promptEmail}

	case StateAwaitingEmail:
		email, err := services.ValidateEmail(input)
		if err != nil {
			return Step{State: state, Draft: draft, Reply: replyBadEmail, Err: err}
		}
		draft.Email = email
		return Step{State: StateComplete, Draft: draft, Reply: replyComplete}

	case StateComplete:
		return Step{State: StateComplete, Draft: draft, Reply: replyRestarted}
	}
	return Step{State: StateIdle, Err: errors.New("unknown registration state")}
}
