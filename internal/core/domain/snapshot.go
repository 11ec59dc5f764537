package domain

import "time"

// ActorUnknown is reported when no resolver can attribute an event.
const ActorUnknown = "ERROR"

// Snapshot is the state of a container at one instant.
type Snapshot struct {
	Container   Container  `json:"container"`
	At          time.Time  `json:"at"`
	Existing    []CartItem `json:"existing"`
	Added       []CartItem `json:"added"`
	Removed     []CartItem `json:"removed"`
	By          string     `json:"by"`
	InfoUpdated bool       `json:"info_updated"`
}

type Page struct {
	Number int `json:"page"`
	Size   int `json:"page_size"`
}

const DefaultPageSize = 10

// Normalize fills defaults for a zero or negative page.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

type TimelinePage struct {
	Page  Page        `json:"page"`
	Total int         `json:"total"`
	Times []time.Time `json:"times"`
}
