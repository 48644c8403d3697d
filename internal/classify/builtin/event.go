package builtin

import (
	"context"
	"time"

	"photonix/internal/classify"
)

const (
	EventChristmas = "Christmas Day"
	EventNewYear   = "New Year"
	EventHalloween = "Halloween"
	EventValentine = "Valentine's Day"
)

type eventRule struct {
	name  string
	match func(t time.Time) bool
}

func onDay(month time.Month, day int) func(time.Time) bool {
	return func(t time.Time) bool { return t.Month() == month && t.Day() == day }
}

var eventRules = []eventRule{
	{EventChristmas, onDay(time.December, 25)},
	{EventNewYear, func(t time.Time) bool {
		return (t.Month() == time.December && t.Day() == 31 && t.Hour() >= 18) ||
			(t.Month() == time.January && t.Day() == 1)
	}},
	{EventHalloween, onDay(time.October, 31)},
	{EventValentine, onDay(time.February, 14)},
}

// EventModel tags photos whose capture date falls on a known occasion. The
// capture time is compared as stored, without zone conversion.
type EventModel struct{}

// NewEventModel returns the event model.
func NewEventModel() *EventModel { return &EventModel{} }

// Predict never fails; photos without a capture time get no labels.
func (m *EventModel) Predict(_ context.Context, input classify.Input) (classify.Result, error) {
	if input.TakenAt == nil {
		return classify.Result{}, nil
	}
	var labels []classify.Label
	for _, rule := range eventRules {
		if rule.match(*input.TakenAt) {
			labels = append(labels, classify.Label{Name: rule.name, Score: 1})
		}
	}
	return classify.Result{Labels: labels}, nil
}
