package person

import (
	"errors"
	"fmt"
	"strings"
)

// Person identifies who a booking or purchase applies to: the account
// holder or one of their family members.
type Person struct {
	ClientID  int
	PersonID  string
	FirstName string
	LastName  string
	Email     string // set for the account holder, often absent for family members
}

// Key returns the identity key used for de-duplication across the
// account holder and fetched family members.
func (p Person) Key() string {
	return fmt.Sprintf("%d|%s", p.ClientID, p.PersonID)
}

// DisplayName formats the person's name for selection lists.
func (p Person) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Validate checks if the Person has valid identity data.
// PRE: Person struct is initialized
// POST: Returns error if validation fails, nil otherwise
func (p Person) Validate() error {
	if p.ClientID == 0 {
		return errors.New("person client id must be set")
	}
	if p.PersonID == "" {
		return errors.New("person id must be set")
	}
	return nil
}

// Same reports whether two persons share the same identity.
func (p Person) Same(other Person) bool {
	return p.ClientID == other.ClientID && p.PersonID == other.PersonID
}
