package progress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
)

func sampleAssignment() models.Assignment {
	return models.Assignment{
		ID: 5,
		Activities: []models.Activity{
			{ID: 1, Type: models.ActivityReadAloud, Items: []models.PracticeItem{
				{ID: 10, ReferenceText: "good morning"},
				{ID: 11, ReferenceText: "good night"},
			}},
			{ID: 2, Type: models.ActivityShortAnswer, Items: []models.PracticeItem{{ID: 20}}},
		},
	}
}

func TestEntriesForRestoresSavedProgress(t *testing.T) {
	records := []models.ItemProgressRecord{{
		AssignmentID: 5, ActivityID: 1, ItemID: 10,
		Status:       string(StatusCompleted),
		Attempt:      2,
		RecordingURL: "https://cdn.example/10.webm",
		ProgressRef:  "p-10",
		Assessment:   []byte(`{"pronunciation_score":91}`),
	}}

	entries, err := EntriesFor(sampleAssignment(), records)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	first := entries[0]
	require.Equal(t, KindAudio, first.Kind)
	require.Equal(t, "good morning", first.ReferenceText)
	require.Equal(t, RecordingRef{Kind: RefRemote, URL: "https://cdn.example/10.webm", ProgressID: "p-10", Attempt: 2}, first.Recording)
	require.True(t, first.HasAssessment())
	require.Equal(t, first.Recording, first.Assessment.Ref)
	require.InDelta(t, 91, first.Assessment.Result.PronunciationScore, 0.001)

	require.Equal(t, StatusNotStarted, entries[1].Status)
	require.Equal(t, KindText, entries[2].Kind)
}

func TestEntriesForRejectsCorruptAssessment(t *testing.T) {
	records := []models.ItemProgressRecord{{
		AssignmentID: 5, ActivityID: 1, ItemID: 10,
		RecordingURL: "https://cdn.example/10.webm",
		Assessment:   []byte(`{not json`),
	}}
	_, err := EntriesFor(sampleAssignment(), records)
	require.Error(t, err)
}

func TestRecordsSkipLocalRefs(t *testing.T) {
	entries, err := EntriesFor(sampleAssignment(), nil)
	require.NoError(t, err)
	store := NewStore()
	store.Load(entries)

	audio := ItemKey{AssignmentID: 5, ActivityID: 1, ItemID: 10}
	attempt, err := store.BeginRecording(audio)
	require.NoError(t, err)
	_, err = store.UpsertRecording(audio, RecordingRef{Kind: RefLocal, LocalID: "l-1", Attempt: attempt})
	require.NoError(t, err)
	require.NoError(t, store.SetAnswer(ItemKey{AssignmentID: 5, ActivityID: 2, ItemID: 20}, "I like tea"))

	records, err := Records(7, store.Snapshot())
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, uint(7), records[0].StudentID)
	require.Empty(t, records[0].RecordingURL)
	require.Nil(t, records[0].Assessment)
	require.Equal(t, "I like tea", records[2].AnswerText)
}
