// Package roster builds the main-to-alts mapping used to attribute kills and
// losses to a player rather than a raw character ID.
package roster

import (
	"fmt"
	"sort"
)

// Character is a member character as known to the membership provider.
type Character struct {
	ID            int64  `json:"character_id"`
	Name          string `json:"name"`
	CorporationID int64  `json:"corporation_id"`
	AllianceID    int64  `json:"alliance_id,omitempty"`
}

// Account is one player: a main character plus the linked alts that are
// themselves members of a tracked organization.
type Account struct {
	Main Character   `json:"main"`
	Alts []Character `json:"alts"`
}

// Roster is the computed mapping for one organization set.
type Roster struct {
	// Accounts is keyed by main character ID.
	Accounts map[int64]Account
	// CharacterIDs is the flat union of all mains and attached alts.
	CharacterIDs []int64
	// Missing collects character IDs that could not be resolved at all.
	Missing []int64

	altToMain map[int64]int64
}

// New builds a roster from accounts keyed by main character ID.
func New(accounts map[int64]Account) Roster {
	r := Roster{Accounts: accounts}
	r.finalize()
	return r
}

// Empty reports whether the roster has no accounts.
func (r Roster) Empty() bool { return len(r.Accounts) == 0 }

// Contains reports whether the character is part of the roster, as a main or
// an alt.
func (r Roster) Contains(characterID int64) bool {
	if _, ok := r.Accounts[characterID]; ok {
		return true
	}
	_, ok := r.altToMain[characterID]
	return ok
}

// MainOf returns the main character for the given ID. A main maps to itself.
func (r Roster) MainOf(characterID int64) (Character, bool) {
	if acc, ok := r.Accounts[characterID]; ok {
		return acc.Main, true
	}
	if mainID, ok := r.altToMain[characterID]; ok {
		return r.Accounts[mainID].Main, true
	}
	return Character{}, false
}

// IsAlt reports whether the character is a known alt of a different main.
func (r Roster) IsAlt(characterID int64) bool {
	mainID, ok := r.altToMain[characterID]
	return ok && mainID != characterID
}

// DisplayName renders a character for output: alts are shown as
// "Alt (Main)", mains and unknown characters by their own name.
func (r Roster) DisplayName(characterID int64, ownName string) string {
	if !r.IsAlt(characterID) {
		return ownName
	}
	main := r.Accounts[r.altToMain[characterID]].Main
	return fmt.Sprintf("%s (%s)", ownName, main.Name)
}

// finalize rebuilds the derived index and flat ID list from Accounts.
func (r *Roster) finalize() {
	r.altToMain = make(map[int64]int64)
	idSet := make(map[int64]struct{})
	for mainID, acc := range r.Accounts {
		idSet[mainID] = struct{}{}
		for _, alt := range acc.Alts {
			r.altToMain[alt.ID] = mainID
			idSet[alt.ID] = struct{}{}
		}
	}
	r.CharacterIDs = r.CharacterIDs[:0]
	for id := range idSet {
		r.CharacterIDs = append(r.CharacterIDs, id)
	}
	sort.Slice(r.CharacterIDs, func(i, j int) bool { return r.CharacterIDs[i] < r.CharacterIDs[j] })
}
