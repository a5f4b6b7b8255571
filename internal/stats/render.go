package stats

import "fmt"

// External links and portraits follow the zKillboard and EVE image server URL
// shapes.

func characterZKBLink(id int64) string {
	return fmt.Sprintf("https://zkillboard.com/character/%d/", id)
}

func shipZKBLink(id int64) string {
	return fmt.Sprintf("https://zkillboard.com/ship/%d/", id)
}

func victimZKBLink(category string, id int64) string {
	switch category {
	case "corporation":
		return fmt.Sprintf("https://zkillboard.com/corporation/%d/", id)
	case "alliance":
		return fmt.Sprintf("https://zkillboard.com/alliance/%d/", id)
	}
	return characterZKBLink(id)
}

func characterPortrait(id int64) string {
	return fmt.Sprintf("https://images.evetech.net/characters/%d/portrait?size=256", id)
}

func typeIcon(id int64) string {
	return fmt.Sprintf("https://images.evetech.net/types/%d/icon?size=256", id)
}

func victimPortrait(category string, id int64) string {
	switch category {
	case "corporation":
		return fmt.Sprintf("https://images.evetech.net/corporations/%d/logo?size=256", id)
	case "alliance":
		return fmt.Sprintf("https://images.evetech.net/alliances/%d/logo?size=256", id)
	}
	return characterPortrait(id)
}
