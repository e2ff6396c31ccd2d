package submission

import (
	"fmt"
	"strings"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// Item is the gate's view of one practice prompt.
type Item struct {
	ID     uint
	Prompt string
}

// Activity is the gate's view of an activity and its items, in display order.
type Activity struct {
	AssignmentID uint
	ID           uint
	Title        string
	Kind         progress.ItemKind
	Items        []Item
}

// Requirement names one unmet condition on an item.
type Requirement string

const (
	NeedsRecording  Requirement = "recording"
	NeedsAssessment Requirement = "assessment"
	NeedsAnswer     Requirement = "answer"
)

// IncompleteItem describes one item that blocks submission.
type IncompleteItem struct {
	Key         progress.ItemKey `json:"key"`
	Description string           `json:"description"`
	Missing     []Requirement    `json:"missing"`
}

// Result is the outcome of CanSubmit. Incomplete is empty when OK is true.
type Result struct {
	OK         bool             `json:"ok"`
	Incomplete []IncompleteItem `json:"incomplete_items,omitempty"`
}

// ActivitiesFrom projects a loaded assignment into gate activities.
func ActivitiesFrom(assignment models.Assignment) []Activity {
	activities := make([]Activity, 0, len(assignment.Activities))
	for _, activity := range assignment.Activities {
		kind := progress.KindText
		if activity.Type.IsAudio() {
			kind = progress.KindAudio
		}
		items := make([]Item, 0, len(activity.Items))
		for _, item := range activity.Items {
			items = append(items, Item{ID: item.ID, Prompt: item.Prompt})
		}
		activities = append(activities, Activity{
			AssignmentID: assignment.ID,
			ID:           activity.ID,
			Title:        activity.Title,
			Kind:         kind,
			Items:        items,
		})
	}
	return activities
}

// CanSubmit checks every item and reports all of the unmet ones, in
// activity and item order. It has no side effects.
func CanSubmit(activities []Activity, snapshot progress.Snapshot) Result {
	var incomplete []IncompleteItem
	for _, activity := range activities {
		for position, item := range activity.Items {
			key := progress.ItemKey{AssignmentID: activity.AssignmentID, ActivityID: activity.ID, ItemID: item.ID}
			state, _ := snapshot.Lookup(key)

			missing := missingFor(activity.Kind, state)
			if len(missing) == 0 {
				continue
			}
			incomplete = append(incomplete, IncompleteItem{
				Key:         key,
				Description: describe(activity, position, item, missing),
				Missing:     missing,
			})
		}
	}
	return Result{OK: len(incomplete) == 0, Incomplete: incomplete}
}

func missingFor(kind progress.ItemKind, state progress.ItemProgress) []Requirement {
	if kind == progress.KindText {
		if strings.TrimSpace(state.AnswerText) == "" {
			return []Requirement{NeedsAnswer}
		}
		return nil
	}

	var missing []Requirement
	if state.Recording.IsZero() {
		missing = append(missing, NeedsRecording)
	}
	if !state.HasAssessment() {
		missing = append(missing, NeedsAssessment)
	}
	return missing
}

func describe(activity Activity, position int, item Item, missing []Requirement) string {
	var need string
	switch {
	case len(missing) == 2:
		need = "record an answer and wait for its score"
	case missing[0] == NeedsRecording:
		need = "record an answer"
	case missing[0] == NeedsAssessment:
		need = "waiting for the pronunciation score"
	default:
		need = "type an answer"
	}

	label := fmt.Sprintf("%s, item %d", activity.Title, position+1)
	if prompt := strings.TrimSpace(item.Prompt); prompt != "" {
		label = fmt.Sprintf("%s (%q)", label, truncate(prompt, 40))
	}
	return label + ": " + need
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}
