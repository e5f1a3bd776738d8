package domain

import (
	"fmt"
	"time"
)

// Inventory counts the station-days held locally for one station-year, per month.
type Inventory struct {
	USAF        string
	WBAN        string
	Year        int
	Months      [12]int
	LastUpdated time.Time
}

// NewInventory returns an empty inventory for a station-year.
func NewInventory(usaf, wban string, year int) Inventory {
	return Inventory{USAF: usaf, WBAN: wban, Year: year}
}

// StationID returns the combined "USAF-WBAN" identifier.
func (inv Inventory) StationID() string {
	return StationID(inv.USAF, inv.WBAN)
}

// Key identifies the inventory row as "USAF-WBAN-YYYY".
func (inv Inventory) Key() string {
	return fmt.Sprintf("%s-%d", inv.StationID(), inv.Year)
}

// Add counts day in its month. Days from other stations or years are ignored.
func (inv *Inventory) Add(day StationDay) {
	if day.USAF != inv.USAF || day.WBAN != inv.WBAN || day.Date.Year() != inv.Year {
		return
	}
	inv.Months[day.Date.Month()-1]++
}

// Total returns the number of station-days across all months.
func (inv Inventory) Total() int {
	n := 0
	for _, c := range inv.Months {
		n += c
	}
	return n
}

// MarkUpdated stamps the inventory with the current time.
func (inv *Inventory) MarkUpdated() {
	inv.LastUpdated = clock.Now().UTC()
}
