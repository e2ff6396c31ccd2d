package progress

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

// EntriesFor builds the store's initial contents for one student from the
// assignment layout and whatever progress rows were saved earlier. Items
// without a saved row start as not_started.
func EntriesFor(assignment models.Assignment, records []models.ItemProgressRecord) ([]ItemProgress, error) {
	saved := make(map[ItemKey]models.ItemProgressRecord, len(records))
	for _, record := range records {
		saved[ItemKey{AssignmentID: record.AssignmentID, ActivityID: record.ActivityID, ItemID: record.ItemID}] = record
	}

	var entries []ItemProgress
	for _, activity := range assignment.Activities {
		kind := KindText
		if activity.Type.IsAudio() {
			kind = KindAudio
		}
		for _, item := range activity.Items {
			key := ItemKey{AssignmentID: assignment.ID, ActivityID: activity.ID, ItemID: item.ID}
			entry := ItemProgress{
				Key:           key,
				Kind:          kind,
				ReferenceText: item.ReferenceText,
				Status:        StatusNotStarted,
			}
			if record, ok := saved[key]; ok {
				if err := restore(&entry, record); err != nil {
					return nil, fmt.Errorf("restore item %s: %w", key, err)
				}
			}
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func restore(entry *ItemProgress, record models.ItemProgressRecord) error {
	entry.Status = Status(record.Status)
	entry.Attempt = record.Attempt
	entry.AnswerText = record.AnswerText
	entry.UpdatedAt = record.UpdatedAt
	if entry.Kind != KindAudio || record.RecordingURL == "" {
		return nil
	}

	entry.Recording = RecordingRef{
		Kind:       RefRemote,
		URL:        record.RecordingURL,
		ProgressID: record.ProgressRef,
		Attempt:    record.Attempt,
	}
	if len(record.Assessment) == 0 || string(record.Assessment) == "null" {
		return nil
	}
	var result AssessmentResult
	if err := json.Unmarshal(record.Assessment, &result); err != nil {
		return err
	}
	entry.Assessment = Assessment{State: AssessmentReady, Result: &result, Ref: entry.Recording}
	return nil
}

// Records converts a snapshot into rows for persistence. Local refs are not
// persisted since the blob behind them does not outlive the workspace.
func Records(studentID uint, snapshot Snapshot) ([]models.ItemProgressRecord, error) {
	records := make([]models.ItemProgressRecord, 0, len(snapshot.Items))
	for _, item := range snapshot.Items {
		record := models.ItemProgressRecord{
			AssignmentID: item.Key.AssignmentID,
			StudentID:    studentID,
			ActivityID:   item.Key.ActivityID,
			ItemID:       item.Key.ItemID,
			Status:       string(item.Status),
			Attempt:      item.Attempt,
			AnswerText:   item.AnswerText,
		}
		if item.Recording.Kind == RefRemote {
			record.RecordingURL = item.Recording.URL
			record.ProgressRef = item.Recording.ProgressID
		}
		if item.HasAssessment() {
			payload, err := json.Marshal(item.Assessment.Result)
			if err != nil {
				return nil, fmt.Errorf("encode assessment for %s: %w", item.Key, err)
			}
			record.Assessment = datatypes.JSON(payload)
		}
		records = append(records, record)
	}
	return records, nil
}
