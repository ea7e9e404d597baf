package calendar

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileEpoch struct {
	Event int    `yaml:"event"`
	Start string `yaml:"start"`
}

type fileCalendar struct {
	EventDays int         `yaml:"event_days"`
	Epochs    []fileEpoch `yaml:"epochs"`
}

// LoadFile reads an epoch table from a YAML file:
//
//	event_days: 7
//	epochs:
//	  - event: 52
//	    start: 2024-08-06T22:00:00Z
func LoadFile(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calendar file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Calendar from YAML bytes. See LoadFile for the format.
func Parse(data []byte) (*Calendar, error) {
	var raw fileCalendar
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}
	if raw.EventDays == 0 {
		raw.EventDays = DefaultEventDays
	}

	epochs := make([]Epoch, 0, len(raw.Epochs))
	for _, e := range raw.Epochs {
		start, err := time.Parse(time.RFC3339, e.Start)
		if err != nil {
			return nil, fmt.Errorf("epoch for event %d: %w", e.Event, err)
		}
		epochs = append(epochs, Epoch{Event: e.Event, Start: start.UTC()})
	}
	return New(epochs, raw.EventDays)
}
