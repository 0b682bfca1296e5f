package auth

import "github.com/tomzdev/spotify-migration-tool/sessions"

type DecisionKind int

const (
	// DecisionBothReady means both accounts are signed in and the app can move on.
	DecisionBothReady DecisionKind = iota + 1
	// DecisionLoginOther means Decision.Account still has to sign in.
	DecisionLoginOther
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionBothReady:
		return "both_ready"
	case DecisionLoginOther:
		return "login_other"
	}
	return "unknown"
}

// Decision is where the browser goes after an account finishes signing in.
type Decision struct {
	Kind    DecisionKind
	Account sessions.Account
}

// AccountView is the part of an account's state the navigation policy looks at.
type AccountView struct {
	Account       sessions.Account
	Authenticated bool
}

func viewOf(account sessions.Account, state sessions.AccountState) AccountView {
	return AccountView{Account: account, Authenticated: state.Ready()}
}

// NextStep decides the next navigation from the state of both accounts.
func NextStep(self, other AccountView) Decision {
	switch {
	case self.Authenticated && other.Authenticated:
		return Decision{Kind: DecisionBothReady}
	case !other.Authenticated:
		return Decision{Kind: DecisionLoginOther, Account: other.Account}
	default:
		return Decision{Kind: DecisionLoginOther, Account: self.Account}
	}
}
